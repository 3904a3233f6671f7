package fluxruntime

import (
	"os"
	"path/filepath"
	"strings"
)

// PromptTokenLimit is the longest prompt, in tokens, the text encoder accepts.
const PromptTokenLimit = 512

// requiredFiles must all exist for a directory to hold a FLUX.2 model.
var requiredFiles = []string{
	"text_encoder/config.json",
	"text_encoder/generation_config.json",
	"tokenizer/added_tokens.json",
	"tokenizer/chat_template.jinja",
	"tokenizer/merges.txt",
	"tokenizer/special_tokens_map.json",
	"tokenizer/tokenizer.json",
	"tokenizer/tokenizer_config.json",
	"tokenizer/vocab.json",
	"transformer/config.json",
	"vae/config.json",
	"vae/diffusion_pytorch_model.safetensors",
}

// weightSets are the sub-models that ship single or sharded safetensors.
var weightSets = []struct{ dir, base string }{
	{"text_encoder", "model"},
	{"transformer", "diffusion_pytorch_model"},
}

// IsModelDir reports whether dir holds a complete FLUX.2 model.
func IsModelDir(dir string) bool {
	for _, rel := range requiredFiles {
		if !fileExists(filepath.Join(dir, filepath.FromSlash(rel))) {
			return false
		}
	}
	for _, ws := range weightSets {
		if !hasSafetensors(filepath.Join(dir, ws.dir), ws.base) {
			return false
		}
	}
	return true
}

// TokenizerDir returns the tokenizer directory of a model.
func TokenizerDir(modelDir string) string {
	return filepath.Join(modelDir, "tokenizer")
}

// hasSafetensors accepts either <base>.safetensors, or an index file plus
// at least one <base>-*.safetensors shard.
func hasSafetensors(dir, base string) bool {
	if fileExists(filepath.Join(dir, base+".safetensors")) {
		return true
	}
	if !fileExists(filepath.Join(dir, base+".safetensors.index.json")) {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, base+"-") && strings.HasSuffix(name, ".safetensors") {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
