package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/types"
)

// Flags are the command line options. Without --config they describe
// the whole job: every -i input is decoded and its first video and
// first audio streams are mapped to the outputs. With --config they
// override the loaded values.
type Flags struct {
	ConfigPath    string
	LogLevel      logger.Level
	Inputs        []string
	VideoFilter   string
	AudioFilter   string
	Loop          int
	ReadRate      float64
	RateEmu       bool
	VSync         string
	CopyTS        bool
	FilterBackend string
	Benchmark     bool

	flagSet *pflag.FlagSet
}

func NewFlags() *Flags {
	return &Flags{
		LogLevel: logger.LevelWarning,
	}
}

func (f *Flags) AddTo(fs *pflag.FlagSet) {
	f.flagSet = fs
	fs.StringVar(&f.ConfigPath, "config", "", "path to the YAML job description")
	fs.Var(&f.LogLevel, "log-level", "Log level")
	fs.StringArrayVarP(&f.Inputs, "input", "i", nil, "input URL (can be repeated)")
	fs.StringVar(&f.VideoFilter, "vf", "", "video filter chain")
	fs.StringVar(&f.AudioFilter, "af", "", "audio filter chain")
	fs.IntVar(&f.Loop, "loop", 0, "number of times the inputs are restarted; -1 is forever")
	fs.Float64Var(&f.ReadRate, "readrate", 0, "read the inputs at the given multiple of the real time")
	fs.BoolVar(&f.RateEmu, "re", false, "read the inputs at the real time")
	fs.StringVar(&f.VSync, "vsync", "", "video sync method: auto, passthrough, cfr, vfr, vscfr, drop")
	fs.BoolVar(&f.CopyTS, "copyts", false, "keep the input timestamps")
	fs.StringVar(&f.FilterBackend, "filter-backend", "", "filter implementation: libav or go")
	fs.BoolVar(&f.Benchmark, "benchmark", false, "print the resource usage at the end")
}

func (f *Flags) changed(name string) bool {
	return f.flagSet != nil && f.flagSet.Changed(name)
}

// Config loads the --config file (or builds a job from -i) and applies
// the overrides given on the command line.
func (f *Flags) Config() (*Config, error) {
	var cfg *Config
	if f.ConfigPath != "" {
		var err error
		cfg, err = Load(f.ConfigPath)
		if err != nil {
			return nil, err
		}
		for _, url := range f.Inputs {
			cfg.Inputs = append(cfg.Inputs, InputConfig{URL: NewSecret(url)})
		}
	} else {
		if len(f.Inputs) == 0 {
			return nil, fmt.Errorf("neither --config nor -i is set: %w", types.ErrInvalidArgument)
		}
		cfg = &Config{}
		for _, url := range f.Inputs {
			cfg.Inputs = append(cfg.Inputs, InputConfig{URL: NewSecret(url)})
		}
		cfg.Outputs = []OutputConfig{
			{Name: "video", Stream: &StreamSpecifier{MediaType: types.MediaTypeVideo, Index: 0}, Filter: f.VideoFilter, Optional: true},
			{Name: "audio", Stream: &StreamSpecifier{MediaType: types.MediaTypeAudio, Index: 0}, Filter: f.AudioFilter, Optional: true},
		}
		cfg.LogLevel = f.LogLevel.String()
		cfg.setDefaults()
	}

	if f.changed("log-level") {
		cfg.LogLevel = f.LogLevel.String()
	}
	for idx := range cfg.Inputs {
		in := &cfg.Inputs[idx]
		if f.changed("loop") {
			in.Loop = f.Loop
		}
		if f.changed("readrate") {
			in.ReadRate = f.ReadRate
		}
		if f.changed("re") {
			in.RateEmu = f.RateEmu
		}
	}
	for idx := range cfg.Outputs {
		out := &cfg.Outputs[idx]
		if f.changed("vsync") {
			out.VSync = f.VSync
		}
		if out.Graph != nil || out.Stream == nil {
			continue
		}
		switch out.Stream.MediaType {
		case types.MediaTypeVideo:
			if f.changed("vf") {
				out.Filter = f.VideoFilter
			}
		case types.MediaTypeAudio:
			if f.changed("af") {
				out.Filter = f.AudioFilter
			}
		}
	}
	if f.changed("copyts") {
		cfg.CopyTS = f.CopyTS
	}
	if f.FilterBackend != "" {
		cfg.FilterBackend = f.FilterBackend
	}
	if f.changed("benchmark") {
		cfg.Benchmark = f.Benchmark
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
