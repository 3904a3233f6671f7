package webui

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"mochi_backend/gallery"
	"mochi_backend/generation"
)

// DefaultPreviewEdge bounds the longest side of streamed previews.
const DefaultPreviewEdge = 512

// pumpEvents relays service, state and preview streams to the broadcaster
// until ctx is done or every stream has closed.
func (s *Server) pumpEvents(ctx context.Context) {
	snapshots := s.deps.Service.Updates(ctx)
	results := s.deps.Service.Results(ctx)
	states := s.deps.Service.State().Subscribe(ctx)
	var previews <-chan gallery.Preview
	if s.deps.Gallery != nil {
		previews = s.deps.Gallery.Previews(ctx)
	}

	for snapshots != nil || results != nil || states != nil || previews != nil {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			s.broadcaster.BroadcastMessage(NewSnapshotMessage(snap))

		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			s.broadcaster.BroadcastMessage(NewResultMessage(r))

		case ev, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			s.broadcaster.BroadcastMessage(NewStateMessage(ev))

		case p, ok := <-previews:
			if !ok {
				previews = nil
				continue
			}
			data, err := EncodePreview(p, s.config.PreviewEdge)
			if err != nil {
				s.logger.Warn("Failed to encode preview", zap.Error(err))
				continue
			}
			s.broadcaster.BroadcastMessage(NewPreviewMessage(data))
		}
	}
}

// EncodePreview scales the preview to fit maxEdge and encodes it as a PNG
// data URL. A nil image yields an empty preview.
func EncodePreview(p gallery.Preview, maxEdge int) (PreviewData, error) {
	data := PreviewData{Version: p.Version}
	if p.Image == nil {
		return data, nil
	}
	img := fitWithin(p.Image, maxEdge)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return data, err
	}
	b := img.Bounds()
	data.Image = "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	data.Width = b.Dx()
	data.Height = b.Dy()
	return data, nil
}

func fitWithin(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return src
	}
	if w >= h {
		h = max(1, h*maxEdge/w)
		w = maxEdge
	} else {
		w = max(1, w*maxEdge/h)
		h = maxEdge
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// initialMessage is sent to each new WebSocket client.
func (s *Server) initialMessage() WSMessage {
	state := s.deps.Service.State()
	ev := generation.StateEvent{Status: state.Status()}
	if d, ok := state.LastStepElapsed(); ok {
		ev.LastStepElapsed = d
	}
	data := InitialData{
		Snapshot: s.deps.Service.Snapshot(),
		State:    NewStateData(ev),
		Version:  s.config.Version,
	}
	if s.deps.Gallery != nil {
		data.ImageCount = s.deps.Gallery.Count()
	}
	return NewInitialMessage(data)
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
