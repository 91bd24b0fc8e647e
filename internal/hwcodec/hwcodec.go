package hwcodec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"idmark/internal/logging"
)

// Strategy names accepted by codec.preferred.
const (
	StrategyNVENC    = "nvenc"
	StrategyQSV      = "qsv"
	StrategyAMF      = "amf"
	StrategySoftware = "software"
)

// SoftwareCodec is the encoder used when no hardware probe succeeds.
const SoftwareCodec = "libx264"

const defaultProbeTimeout = 10 * time.Second

// Codec is the encoder chosen for a run.
type Codec struct {
	Strategy string
	Name     string
}

// Hardware reports whether the codec offloads encoding to a GPU.
func (c Codec) Hardware() bool {
	return c.Strategy != StrategySoftware
}

func (c Codec) String() string { return c.Name }

// ProbeFunc reports whether a strategy's hardware is usable. The detail is
// logged and shown by Describe.
type ProbeFunc func(ctx context.Context) (bool, string)

// Strategy is one entry of the ordered fallback chain. A nil Probe always matches.
type Strategy struct {
	Name  string
	Codec string
	Probe ProbeFunc
}

// Outcome records what a strategy's probe reported.
type Outcome struct {
	Strategy  string
	Codec     string
	Available bool
	Detail    string
}

// CommandRunner executes a probe command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Tools names the executables probes shell out to.
type Tools struct {
	FFmpeg    string
	NvidiaSMI string
}

// Prober resolves the best codec once and caches it.
type Prober struct {
	strategies []Strategy
	logger     *slog.Logger
	timeout    time.Duration

	once     sync.Once
	best     Codec
	outcomes []Outcome
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger attaches a logger for probe results.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProbeTimeout bounds each individual probe.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// NewProber builds a Prober over strategies. A software strategy is appended
// when the list does not already end with one.
func NewProber(strategies []Strategy, opts ...Option) *Prober {
	chain := append([]Strategy(nil), strategies...)
	if len(chain) == 0 || chain[len(chain)-1].Name != StrategySoftware {
		chain = append(chain, Software())
	}
	p := &Prober{
		strategies: chain,
		logger:     logging.NewNop(),
		timeout:    defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "hwcodec")
	return p
}

// Best returns the first available codec. Probes run on the first call only;
// later calls return the cached result, even with a different context.
func (p *Prober) Best(ctx context.Context) Codec {
	p.once.Do(func() {
		p.best, p.outcomes = p.resolve(ctx)
		p.logger.Info("codec selected",
			logging.String("strategy", p.best.Strategy),
			logging.String("codec", p.best.Name),
			logging.String(logging.FieldEventType, "codec_selected"),
		)
	})
	return p.best
}

// Describe returns the probe outcomes recorded by Best, in chain order.
// Strategies after the selected one are not probed and are absent.
func (p *Prober) Describe() []Outcome {
	return append([]Outcome(nil), p.outcomes...)
}

func (p *Prober) resolve(ctx context.Context) (Codec, []Outcome) {
	outcomes := make([]Outcome, 0, len(p.strategies))
	for _, strategy := range p.strategies {
		available, detail := true, "no probe required"
		if strategy.Probe != nil {
			available, detail = p.runProbe(ctx, strategy)
		}
		outcomes = append(outcomes, Outcome{
			Strategy:  strategy.Name,
			Codec:     strategy.Codec,
			Available: available,
			Detail:    detail,
		})
		p.logger.Debug("codec probe",
			logging.String("strategy", strategy.Name),
			logging.Bool("available", available),
			logging.String("detail", detail),
		)
		if available {
			return Codec{Strategy: strategy.Name, Name: strategy.Codec}, outcomes
		}
	}
	// Unreachable with the software tail in place, kept for strategies built by hand.
	return Codec{Strategy: StrategySoftware, Name: SoftwareCodec}, outcomes
}

func (p *Prober) runProbe(ctx context.Context, strategy Strategy) (available bool, detail string) {
	defer func() {
		if r := recover(); r != nil {
			available, detail = false, fmt.Sprintf("probe panicked: %v", r)
		}
	}()
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return strategy.Probe(probeCtx)
}

// Software returns the terminal strategy.
func Software() Strategy {
	return Strategy{Name: StrategySoftware, Codec: SoftwareCodec}
}

// DefaultStrategies returns the hardware chain NVENC, QSV, AMF followed by software.
func DefaultStrategies(tools Tools, run CommandRunner) []Strategy {
	if run == nil {
		run = execRunner
	}
	ffmpeg := strings.TrimSpace(tools.FFmpeg)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	smi := strings.TrimSpace(tools.NvidiaSMI)
	if smi == "" {
		smi = "nvidia-smi"
	}
	return []Strategy{
		{Name: StrategyNVENC, Codec: "h264_nvenc", Probe: nvidiaProbe(run, smi)},
		{Name: StrategyQSV, Codec: "h264_qsv", Probe: listingProbe(run, ffmpeg, "-hwaccels", "qsv")},
		{Name: StrategyAMF, Codec: "h264_amf", Probe: listingProbe(run, ffmpeg, "-encoders", "h264_amf")},
		Software(),
	}
}

// Pin narrows strategies to the named one plus software. "auto" or an unknown
// name returns the chain unchanged.
func Pin(strategies []Strategy, name string) []Strategy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		return strategies
	}
	if name == StrategySoftware {
		return []Strategy{Software()}
	}
	for _, strategy := range strategies {
		if strategy.Name == name {
			return []Strategy{strategy, Software()}
		}
	}
	return strategies
}

func nvidiaProbe(run CommandRunner, binary string) ProbeFunc {
	return func(ctx context.Context) (bool, string) {
		out, err := run(ctx, binary, "-L")
		if err != nil {
			return false, fmt.Sprintf("%s -L: %v", binary, err)
		}
		if len(bytes.TrimSpace(out)) == 0 {
			return false, "no NVIDIA devices listed"
		}
		first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
		return true, first
	}
}

// listingProbe runs `ffmpeg -hide_banner <flag>` and looks for want as a
// whole word in the listing.
func listingProbe(run CommandRunner, binary, flag, want string) ProbeFunc {
	return func(ctx context.Context) (bool, string) {
		out, err := run(ctx, binary, "-hide_banner", flag)
		if err != nil {
			return false, fmt.Sprintf("%s %s: %v", binary, flag, err)
		}
		if containsToken(out, want) {
			return true, fmt.Sprintf("%s listed by %s", want, flag)
		}
		return false, fmt.Sprintf("%s not listed by %s", want, flag)
	}
}

func containsToken(listing []byte, token string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	for scanner.Scan() {
		for _, field := range strings.Fields(scanner.Text()) {
			if strings.EqualFold(field, token) {
				return true
			}
		}
	}
	return false
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
