package generation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// filenamePromptLimit is how many prompt characters go into a filename.
const filenamePromptLimit = 70

// FilenameWithoutExtension builds "<prompt prefix>.<index>.<seed>", or
// "<index>.<seed>" when nothing of the prompt survives. The prefix never
// holds a path separator or control character and never starts with a dot.
func FilenameWithoutExtension(prompt string, index int, seed uint32) string {
	runes := []rune(prompt)
	if len(runes) > filenamePromptLimit {
		runes = runes[:filenamePromptLimit]
	}
	prefix := strings.TrimFunc(string(runes), unicode.IsSpace)
	prefix = strings.Map(filenameRune, prefix)
	prefix = strings.TrimLeft(prefix, ".")
	if prefix == "" {
		return strconv.Itoa(index) + "." + strconv.FormatUint(uint64(seed), 10)
	}
	return fmt.Sprintf("%s.%d.%d", prefix, index, seed)
}

func filenameRune(r rune) rune {
	if r == '/' || r == '\\' || unicode.IsControl(r) {
		return '_'
	}
	return r
}

// StatusForError maps a failed request to the status shown to users.
// Setup problems the user can fix by choosing differently return to Ready
// with a message; everything else surfaces as Error.
func StatusForError(req Request, err error) Status {
	var notFound *ModelNotFoundError
	var dirErr *ImageDirectoryError
	switch {
	case errors.As(err, &notFound):
		return Ready(modelMissingMessage(notFound.Name))
	case errors.As(err, &dirErr):
		return Error("Couldn't access images folder at: " + dirErr.Path)
	case errors.Is(err, ErrImageWriteFailed):
		return Error("Couldn't save image to the images folder.")
	case errors.Is(err, ErrPipelineNotAvailable):
		return Ready("There was a problem loading pipeline.")
	case errors.Is(err, ErrStartingImageWithoutEncoder):
		return Ready("The selected model does not support setting a starting image.")
	default:
		return Error(fmt.Sprintf("There was a problem generating images: %v", err))
	}
}

func modelMissingMessage(name string) string {
	return fmt.Sprintf("Couldn't load %s because it doesn't exist.", name)
}

func skippedImagesMessage(n int) string {
	if n == 1 {
		return "Couldn't save 1 image to the images folder."
	}
	return fmt.Sprintf("Couldn't save %d images to the images folder.", n)
}
