package sdruntime

import "testing"

func TestLoadSDConfig(t *testing.T) {
	tests := []struct {
		name        string
		threads     string
		tiling      string
		wantThreads int
		wantTiling  bool
	}{
		{name: "defaults"},
		{name: "from env", threads: "6", tiling: "true", wantThreads: 6, wantTiling: true},
		{name: "negative threads", threads: "-2", wantThreads: 0},
		{name: "garbage threads", threads: "many", tiling: "yes", wantThreads: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SD_THREADS", tt.threads)
			t.Setenv("SD_VAE_TILING", tt.tiling)

			cfg := LoadSDConfig()
			if cfg.Threads != tt.wantThreads || cfg.VAETiling != tt.wantTiling {
				t.Errorf("LoadSDConfig() = %+v", cfg)
			}
			loader := cfg.Loader()
			if loader.Threads != tt.wantThreads || loader.VAETiling != tt.wantTiling {
				t.Errorf("Loader() = %+v", loader)
			}
		})
	}
}
