// Package config describes a transcoding job: the inputs, the filter
// graphs and the outputs, loaded from a YAML file and overridable by
// command line flags.
package config

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/xaionaro-go/avtranscode/demux"
	"github.com/xaionaro-go/avtranscode/filtergraph"
	"github.com/xaionaro-go/avtranscode/frame"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/typing"
	"gopkg.in/yaml.v3"
)

const (
	FilterBackendLibAV = "libav"
	FilterBackendGo    = "go"
)

type Config struct {
	LogLevel string `yaml:"log_level,omitempty"`

	Inputs        []InputConfig  `yaml:"inputs"`
	FilterComplex []GraphConfig  `yaml:"filter_complex,omitempty"`
	Outputs       []OutputConfig `yaml:"outputs"`

	CopyTS      bool `yaml:"copyts,omitempty"`
	StartAtZero bool `yaml:"start_at_zero,omitempty"`
	ExitOnError bool `yaml:"exit_on_error,omitempty"`

	// AutoConvert enables the automatic format conversion filters;
	// nil means true.
	AutoConvert          *bool `yaml:"autoconvert,omitempty"`
	FilterThreads        int   `yaml:"filter_threads,omitempty"`
	FilterComplexThreads int   `yaml:"filter_complex_threads,omitempty"`

	// FilterBackend is FilterBackendLibAV or FilterBackendGo.
	FilterBackend  string `yaml:"filter_backend,omitempty"`
	DecoderThreads int    `yaml:"decoder_threads,omitempty"`
	Benchmark      bool   `yaml:"benchmark,omitempty"`
}

type InputConfig struct {
	URL     Secret                `yaml:"url"`
	Format  string                `yaml:"format,omitempty"`
	Options types.DictionaryItems `yaml:"options,omitempty"`

	// ProbeSize is passed to libavformat as the "probesize" option.
	ProbeSize ByteSize `yaml:"probesize,omitempty"`

	Loop          int              `yaml:"loop,omitempty"`
	ITSOffset     Duration         `yaml:"itsoffset,omitempty"`
	StartTime     OptionalDuration `yaml:"ss,omitempty"`
	RecordingTime OptionalDuration `yaml:"t,omitempty"`
	SeekTimestamp bool             `yaml:"seek_timestamp,omitempty"`
	// AccurateSeek trims the decoded frames to the exact StartTime;
	// nil means true.
	AccurateSeek  *bool            `yaml:"accurate_seek,omitempty"`

	ReadRate             float64 `yaml:"readrate,omitempty"`
	ReadRateInitialBurst float64 `yaml:"readrate_initial_burst,omitempty"`
	RateEmu              bool    `yaml:"re,omitempty"`
	ThreadQueueSize      int     `yaml:"thread_queue_size,omitempty"`

	Streams []InputStreamConfig `yaml:"streams,omitempty"`
}

// InputStreamConfig holds the per-stream input options. Select is
// relative to the input ("v", "a:0", "2"; empty selects all streams).
// Later entries override earlier ones.
type InputStreamConfig struct {
	Select string `yaml:"select,omitempty"`

	Discard   bool           `yaml:"discard,omitempty"`
	Decoder   string         `yaml:"decoder,omitempty"`
	TSScale   float64        `yaml:"itsscale,omitempty"`
	FrameRate types.Rational `yaml:"r,omitempty"`
	HWAccel   string         `yaml:"hwaccel,omitempty"`

	// Autorotate and ReinitFilter are nil for "true".
	Autorotate              *bool `yaml:"autorotate,omitempty"`
	ReinitFilter            *bool `yaml:"reinit_filter,omitempty"`
	FixSubDurationHeartbeat bool  `yaml:"fix_sub_duration_heartbeat,omitempty"`
}

// GraphConfig is a complex filter graph.
type GraphConfig struct {
	Description string             `yaml:"description"`
	Inputs      []GraphInputConfig `yaml:"inputs"`
}

type GraphInputConfig struct {
	Label  string          `yaml:"label"`
	Stream StreamSpecifier `yaml:"stream"`
}

// GraphOutputRef points to a labeled output pad of a complex filter graph.
type GraphOutputRef struct {
	Index     int             `yaml:"index"`
	Label     string          `yaml:"label"`
	// MediaType of the pad; video if omitted.
	MediaType types.MediaType `yaml:"type,omitempty"`
}

type MuxerConfig struct {
	VariableFPS  bool `yaml:"variable_fps,omitempty"`
	NoTimestamps bool `yaml:"no_timestamps,omitempty"`
}

// OutputConfig is one encoded output stream. It is fed either by an
// input stream through a simple filter graph (Stream and Filter) or by
// an output pad of a complex filter graph (Graph).
type OutputConfig struct {
	Name     string           `yaml:"name,omitempty"`
	Stream   *StreamSpecifier `yaml:"stream,omitempty"`
	Filter   string           `yaml:"filter,omitempty"`
	Graph    *GraphOutputRef  `yaml:"graph,omitempty"`
	Codec    string           `yaml:"codec,omitempty"`
	Muxer    MuxerConfig      `yaml:"muxer,omitempty"`
	// Optional outputs are skipped if their stream does not exist.
	Optional bool             `yaml:"optional,omitempty"`

	VSync              string  `yaml:"vsync,omitempty"`
	FrameDropThreshold float64 `yaml:"frame_drop_threshold,omitempty"`
	DTSErrorThreshold  float64 `yaml:"dts_error_threshold,omitempty"`
	EncTimeBase        string  `yaml:"enc_time_base,omitempty"`

	FrameRate           types.Rational   `yaml:"r,omitempty"`
	MaxFrameRate        types.Rational   `yaml:"fpsmax,omitempty"`
	SupportedFrameRates []types.Rational `yaml:"supported_frame_rates,omitempty"`
	FrameRateClip       int              `yaml:"frame_rate_clip,omitempty"`

	Size       string   `yaml:"s,omitempty"`
	Autoscale  *bool    `yaml:"autoscale,omitempty"`
	PixFmt     string   `yaml:"pix_fmt,omitempty"`
	PixFmts    []string `yaml:"pix_fmts,omitempty"`
	KeepPixFmt bool     `yaml:"keep_pix_fmt,omitempty"`
	Strict     string   `yaml:"strict,omitempty"`

	SampleFmt      string                `yaml:"sample_fmt,omitempty"`
	SampleFmts     []string              `yaml:"sample_fmts,omitempty"`
	SampleRate     int                   `yaml:"ar,omitempty"`
	SampleRates    []int                 `yaml:"sample_rates,omitempty"`
	ChannelLayout  frame.ChannelLayout   `yaml:"channel_layout,omitempty"`
	ChannelLayouts []frame.ChannelLayout `yaml:"channel_layouts,omitempty"`
	APad           string                `yaml:"apad,omitempty"`

	StartTime     OptionalDuration `yaml:"ss,omitempty"`
	RecordingTime OptionalDuration `yaml:"t,omitempty"`
	TSOffset      Duration         `yaml:"output_ts_offset,omitempty"`
}

// Load reads the configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read the config file '%s': %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to parse the config file '%s': %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML configuration; unknown fields are an error.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("unable to decode YAML: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.FilterBackend == "" {
		cfg.FilterBackend = FilterBackendLibAV
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func (cfg *Config) IsAutoConvert() bool {
	return cfg.AutoConvert == nil || *cfg.AutoConvert
}

// Validate checks the references between the inputs, the graphs and
// the outputs, and the syntax of the textual values.
func (cfg *Config) Validate() error {
	switch cfg.FilterBackend {
	case FilterBackendLibAV, FilterBackendGo:
	default:
		return fmt.Errorf("unknown filter backend '%s': %w", cfg.FilterBackend, types.ErrInvalidArgument)
	}
	if len(cfg.Inputs) == 0 {
		return fmt.Errorf("no inputs: %w", types.ErrInvalidArgument)
	}
	for idx, in := range cfg.Inputs {
		if err := in.validate(); err != nil {
			return types.ErrInput{InputIndex: idx, Err: err}
		}
	}
	for graphIdx, g := range cfg.FilterComplex {
		if strings.TrimSpace(g.Description) == "" {
			return types.ErrFilterGraph{GraphIndex: graphIdx, Err: fmt.Errorf("empty description: %w", types.ErrInvalidArgument)}
		}
		if len(g.Inputs) == 0 {
			return types.ErrFilterGraph{GraphIndex: graphIdx, Err: fmt.Errorf("no inputs: %w", types.ErrInvalidArgument)}
		}
		for inIdx, in := range g.Inputs {
			if in.Label == "" {
				return types.ErrFilterGraph{GraphIndex: graphIdx, Err: fmt.Errorf("input %d has no label: %w", inIdx, types.ErrInvalidArgument)}
			}
			if in.Stream.InputIndex >= len(cfg.Inputs) {
				return types.ErrFilterGraph{GraphIndex: graphIdx, Err: fmt.Errorf("input '%s' refers to a missing input file %d", in.Label, in.Stream.InputIndex)}
			}
		}
	}
	if len(cfg.Outputs) == 0 {
		return fmt.Errorf("no outputs: %w", types.ErrInvalidArgument)
	}
	for idx := range cfg.Outputs {
		if err := cfg.validateOutput(&cfg.Outputs[idx]); err != nil {
			return fmt.Errorf("output %d: %w", idx, err)
		}
	}
	return nil
}

func (in *InputConfig) validate() error {
	if in.URL.IsEmpty() {
		return fmt.Errorf("no URL: %w", types.ErrInvalidArgument)
	}
	if in.Loop < -1 {
		return fmt.Errorf("invalid loop count %d: %w", in.Loop, types.ErrInvalidArgument)
	}
	if in.ReadRate < 0 || in.ReadRateInitialBurst < 0 {
		return fmt.Errorf("the read rate and its initial burst cannot be negative: %w", types.ErrInvalidArgument)
	}
	if in.ReadRate > 0 && in.RateEmu {
		return fmt.Errorf("'readrate' and 're' are mutually exclusive: %w", types.ErrInvalidArgument)
	}
	if in.ThreadQueueSize < 0 {
		return fmt.Errorf("invalid thread queue size %d: %w", in.ThreadQueueSize, types.ErrInvalidArgument)
	}
	for idx, st := range in.Streams {
		if st.Select == "" {
			continue
		}
		if _, err := ParseStreamSpecifier("0:" + st.Select); err != nil {
			return fmt.Errorf("stream options %d: %w", idx, err)
		}
	}
	return nil
}

func (cfg *Config) validateOutput(out *OutputConfig) error {
	switch {
	case out.Stream != nil && out.Graph != nil:
		return fmt.Errorf("both 'stream' and 'graph' are set: %w", types.ErrInvalidArgument)
	case out.Stream == nil && out.Graph == nil:
		return fmt.Errorf("neither 'stream' nor 'graph' is set: %w", types.ErrInvalidArgument)
	case out.Stream != nil:
		if out.Stream.InputIndex >= len(cfg.Inputs) {
			return fmt.Errorf("stream '%s' refers to a missing input file", out.Stream)
		}
	case out.Graph != nil:
		if out.Filter != "" {
			return fmt.Errorf("'filter' cannot be used with a complex graph output: %w", types.ErrInvalidArgument)
		}
		if out.Graph.Index < 0 || out.Graph.Index >= len(cfg.FilterComplex) {
			return fmt.Errorf("graph %d does not exist", out.Graph.Index)
		}
		if out.Graph.Label == "" {
			return fmt.Errorf("no graph output label: %w", types.ErrInvalidArgument)
		}
	}
	if _, err := filtergraph.ParseVSyncMethod(out.VSync); err != nil {
		return err
	}
	if _, err := filtergraph.ParseEncTimeBase(out.EncTimeBase); err != nil {
		return err
	}
	if _, _, err := parseSize(out.Size); err != nil {
		return err
	}
	if _, err := parseStrict(out.Strict); err != nil {
		return err
	}
	if out.FrameRate.Num != 0 && !out.FrameRate.Valid() {
		return fmt.Errorf("invalid frame rate %s: %w", out.FrameRate, types.ErrInvalidArgument)
	}
	return nil
}

// DemuxConfig returns the configuration of the demuxer of the given
// input, applying the per-stream options to the streams it found.
func (cfg *Config) DemuxConfig(inputIdx int, streams []demux.StreamInfo) demux.Config {
	in := &cfg.Inputs[inputIdx]
	result := demux.DefaultConfig()
	result.InputIndex = inputIdx
	result.NbInputFiles = len(cfg.Inputs)
	result.Loop = in.Loop
	result.InputTSOffset = in.ITSOffset.TimeBaseQ()
	result.StartTime = in.StartTime.TimeBaseQOr(types.NoPTSValue)
	result.SeekTimestamp = in.SeekTimestamp
	result.CopyTS = cfg.CopyTS
	result.StartAtZero = cfg.StartAtZero
	result.ExitOnError = cfg.ExitOnError
	result.ReadRate = in.ReadRate
	result.RateEmu = in.RateEmu
	result.ReadRateInitialBurst = in.ReadRateInitialBurst
	result.ThreadQueueSize = in.ThreadQueueSize

	result.Streams = make([]demux.StreamConfig, len(streams))
	typeCounts := map[types.MediaType]int{}
	for idx, info := range streams {
		typeIdx := typeCounts[info.MediaType]
		typeCounts[info.MediaType]++

		stCfg := demux.StreamConfig{
			Autorotate:    true,
			ReinitFilters: true,
		}
		for _, opts := range in.Streams {
			if !opts.matches(inputIdx, idx, info.MediaType, typeIdx) {
				continue
			}
			stCfg.Discard = opts.Discard
			stCfg.TSScale = opts.TSScale
			stCfg.FrameRate = opts.FrameRate
			stCfg.HWAccel = opts.HWAccel
			stCfg.FixSubDurationHeartbeat = opts.FixSubDurationHeartbeat
			if opts.Autorotate != nil {
				stCfg.Autorotate = *opts.Autorotate
			}
			if opts.ReinitFilter != nil {
				stCfg.ReinitFilters = *opts.ReinitFilter
			}
		}
		result.Streams[idx] = stCfg
	}
	return result
}

// DecoderName returns the decoder forced for the given stream, if any.
func (cfg *Config) DecoderName(inputIdx, streamIdx int, mediaType types.MediaType, typeIdx int) string {
	var name string
	for _, opts := range cfg.Inputs[inputIdx].Streams {
		if opts.Decoder != "" && opts.matches(inputIdx, streamIdx, mediaType, typeIdx) {
			name = opts.Decoder
		}
	}
	return name
}

func (opts InputStreamConfig) matches(inputIdx, streamIdx int, mediaType types.MediaType, typeIdx int) bool {
	if opts.Select == "" {
		return true
	}
	spec, err := ParseStreamSpecifier(strconv.Itoa(inputIdx) + ":" + opts.Select)
	if err != nil {
		return false
	}
	return spec.Matches(inputIdx, streamIdx, mediaType, typeIdx)
}

// FilterInputOptions returns the options of a graph input fed by the
// given input file.
func (cfg *Config) FilterInputOptions(inputIdx int, frameRate types.Rational) filtergraph.InputOptions {
	in := &cfg.Inputs[inputIdx]
	opts := filtergraph.DefaultInputOptions()
	if in.AccurateSeek == nil || *in.AccurateSeek {
		opts.TrimStart = in.StartTime.TimeBaseQOr(types.NoPTSValue)
	}
	opts.TrimDuration = in.RecordingTime.TimeBaseQOr(math.MaxInt64)
	if frameRate.Valid() {
		opts.FrameRate = typing.Opt(frameRate)
	}
	return opts
}

// FilterOutputOptions returns the options of the graph output pad
// feeding the given output.
func (out *OutputConfig) FilterOutputOptions(idx int) (filtergraph.OutputOptions, error) {
	opts := filtergraph.DefaultOutputOptions()
	opts.Name = out.Name
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("output #%d", idx)
	}

	var err error
	if opts.VSync, err = filtergraph.ParseVSyncMethod(out.VSync); err != nil {
		return opts, err
	}
	if opts.EncTimeBase, err = filtergraph.ParseEncTimeBase(out.EncTimeBase); err != nil {
		return opts, err
	}
	if opts.Width, opts.Height, err = parseSize(out.Size); err != nil {
		return opts, err
	}
	if opts.Strict, err = parseStrict(out.Strict); err != nil {
		return opts, err
	}
	if out.Autoscale != nil {
		opts.Autoscale = *out.Autoscale
	}

	opts.CodecName = out.Codec
	opts.FrameRate = out.FrameRate
	opts.MaxFrameRate = out.MaxFrameRate
	opts.SupportedFrameRate = out.SupportedFrameRates
	opts.FrameRateClip = out.FrameRateClip
	opts.FrameDropThreshold = out.FrameDropThreshold
	if out.DTSErrorThreshold > 0 {
		opts.DTSErrorThreshold = out.DTSErrorThreshold
	}
	opts.KeepPixFmt = out.KeepPixFmt
	opts.APad = out.APad
	opts.TSOffset = out.TSOffset.TimeBaseQ()
	opts.TrimStart = out.StartTime.TimeBaseQOr(types.NoPTSValue)
	opts.TrimDuration = out.RecordingTime.TimeBaseQOr(math.MaxInt64)

	opts.SampleRate = out.SampleRate
	opts.SampleRates = out.SampleRates
	opts.ChannelLayout = out.ChannelLayout
	opts.ChannelLayouts = out.ChannelLayouts
	return opts, nil
}

// ApplyMediaType fills the format restrictions that depend on the
// media type of the pad, which is only known once the source is bound.
func (out *OutputConfig) ApplyMediaType(opts *filtergraph.OutputOptions, mediaType types.MediaType) {
	switch mediaType {
	case types.MediaTypeVideo:
		opts.Format = out.PixFmt
		opts.Formats = out.PixFmts
	case types.MediaTypeAudio:
		opts.Format = out.SampleFmt
		opts.Formats = out.SampleFmts
	}
}

// ResolveVSync returns the video sync method of the output.
func (out *OutputConfig) ResolveVSync(
	m filtergraph.VSyncMethod,
	singleStreamInput bool,
	copyTS bool,
) filtergraph.VSyncMethod {
	return filtergraph.ResolveVSync(m, filtergraph.MuxerFlags{
		VariableFPS:  out.Muxer.VariableFPS,
		NoTimestamps: out.Muxer.NoTimestamps,
	}, singleStreamInput, copyTS)
}

// parseSize parses "WxH" and the usual abbreviations; an empty string
// is 0x0.
func parseSize(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}
	if abbr, ok := sizeAbbreviations[s]; ok {
		return abbr[0], abbr[1], nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in size %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in size %q", s)
	}
	return width, height, nil
}

var sizeAbbreviations = map[string][2]int{
	"ntsc":    {720, 480},
	"pal":     {720, 576},
	"vga":     {640, 480},
	"svga":    {800, 600},
	"xga":     {1024, 768},
	"hd480":   {852, 480},
	"hd720":   {1280, 720},
	"hd1080":  {1920, 1080},
	"2k":      {2048, 1080},
	"4k":      {4096, 2160},
	"uhd2160": {3840, 2160},
}

func parseStrict(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return 0, nil
	case "very":
		return 2, nil
	case "strict":
		return 1, nil
	case "unofficial":
		return filtergraph.StrictUnofficial, nil
	case "experimental":
		return -2, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid strictness %q", s)
	}
	return v, nil
}
