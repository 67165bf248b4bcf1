package chip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State of a chip reading session. Completed, Failed and TimedOut are
// terminal.
type State int

const (
	StateNotStarted State = iota
	StateInitializing
	StateAuthenticatingBAC
	StateAuthenticatingPACE
	StateReadingDataGroups
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInitializing:
		return "initializing"
	case StateAuthenticatingBAC:
		return "authenticating_bac"
	case StateAuthenticatingPACE:
		return "authenticating_pace"
	case StateReadingDataGroups:
		return "reading_data_groups"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Terminal reports whether the session can no longer change state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// DataGroupResult records the outcome of one elementary file read. Reads
// of non-essential groups may fail without failing the session.
type DataGroupResult struct {
	FileID        uint16
	Raw           []byte
	ReadSucceeded bool
	Err           error
}

// Result is the outcome of a finished session.
type Result struct {
	State              State
	AuthMethod         string // "BAC" or "PACE"
	MRZLine1, MRZLine2 string
	FaceImage          []byte // raw DG2 contents, image extraction is the caller's concern
	Personal           PersonalDetails
	Document           DocumentDetails
	DataGroups         []DataGroupResult
	PassiveAuthFailed  bool

	// ActiveAuthFailed is set when DG15 was read but the chip could not
	// prove possession of its private key. Advisory, like passive auth.
	ActiveAuthFailed bool

	Err error
}

// Config bounds the session. Zero values fall back to defaults.
type Config struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration

	// AdditionalGroups are read after the essential ones; failures there
	// are recorded but never fail the session.
	AdditionalGroups []uint16
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadTimeout      = 5 * time.Second
)

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("chip session already active")
	// ErrNotTerminal is returned by Result before the session finished.
	ErrNotTerminal = errors.New("chip session not in a terminal state")
)

// Authenticator drives one chip reading session over an exclusive
// transport: connect, authenticate via PACE or BAC, read the data groups
// and run passive authentication. State transitions are published on the
// events channel and the final outcome is available through Result.
type Authenticator struct {
	transport Transport
	config    Config

	mu      sync.Mutex
	state   State
	result  *Result
	cancel  context.CancelFunc
	events  chan State
	done    chan struct{}
	started bool
}

// NewAuthenticator wires an authenticator to a transport. The transport
// is owned by the session once Start is called and is closed when the
// session reaches a terminal state.
func NewAuthenticator(transport Transport, config Config) *Authenticator {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	return &Authenticator{
		transport: transport,
		config:    config,
		state:     StateNotStarted,
		events:    make(chan State, 16),
		done:      make(chan struct{}),
	}
}

// Events delivers every state transition. The channel is closed once the
// session is terminal.
func (a *Authenticator) Events() <-chan State {
	return a.events
}

// State returns the current session state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start begins the session. The transport is exclusive, so starting
// while a session is active fails with ErrSessionActive.
func (a *Authenticator) Start(accessKey string) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrSessionActive
	}
	a.started = true
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	go a.run(ctx, accessKey)
	return nil
}

// Cancel aborts a running session and releases the transport. Calling it
// on a terminal session is a no-op.
func (a *Authenticator) Cancel() {
	a.mu.Lock()
	cancel := a.cancel
	started := a.started
	a.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-a.done
}

// Result returns the session outcome once a terminal state is reached.
func (a *Authenticator) Result() (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.Terminal() {
		return nil, ErrNotTerminal
	}
	return a.result, nil
}

func (a *Authenticator) setState(next State) {
	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	slog.Debug("Chip session state changed", "state", next.String())
	select {
	case a.events <- next:
	default:
	}
}

func (a *Authenticator) finish(result *Result) {
	a.mu.Lock()
	a.result = result
	a.state = result.State
	a.mu.Unlock()

	select {
	case a.events <- result.State:
	default:
	}
	close(a.events)
	close(a.done)
}

func (a *Authenticator) run(ctx context.Context, accessKey string) {
	result := &Result{}
	defer func() {
		if err := a.transport.Close(); err != nil {
			slog.Warn("Failed to close chip transport", "error", err)
		}
		a.finish(result)
	}()

	a.setState(StateInitializing)
	if err := a.transport.Connect(); err != nil {
		result.State = StateFailed
		result.Err = fmt.Errorf("%w: %v", ErrTransport, err)
		return
	}

	channel, err := a.authenticate(ctx, accessKey, result)
	if err != nil {
		result.Err = err
		result.State = StateFailed
		if errors.Is(err, ErrTimeout) || ctx.Err() == context.DeadlineExceeded {
			result.State = StateTimedOut
		}
		return
	}
	defer channel.destroy()

	a.setState(StateReadingDataGroups)
	a.readDataGroups(ctx, channel, result)
}

// authenticate selects the applet, probes EF.CardAccess and runs PACE or
// BAC. A failed first attempt is retried once with a freshly derived key,
// which absorbs transient challenge mismatches.
func (a *Authenticator) authenticate(ctx context.Context, accessKey string, result *Result) (*secureChannel, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, a.config.HandshakeTimeout)
	defer cancel()

	if err := selectApplication(handshakeCtx, a.transport); err != nil {
		return nil, err
	}

	usePACE := supportsPACE(readCardAccess(handshakeCtx, a.transport))
	if usePACE {
		a.setState(StateAuthenticatingPACE)
		result.AuthMethod = "PACE"
	} else {
		a.setState(StateAuthenticatingBAC)
		result.AuthMethod = "BAC"
	}

	attempt := func() (*secureChannel, error) {
		if usePACE {
			return performPACE(handshakeCtx, a.transport, accessKey)
		}
		return performBAC(handshakeCtx, a.transport, accessKey)
	}

	channel, err := attempt()
	if err != nil && errors.Is(err, ErrAuthentication) && handshakeCtx.Err() == nil {
		slog.Warn("Chip authentication failed, retrying once", "method", result.AuthMethod, "error", err)
		channel, err = attempt()
	}
	if err != nil {
		return nil, err
	}
	return channel, nil
}

// readDataGroups reads DG1 and DG2 plus any configured additional groups,
// then runs passive authentication. DG1 and DG2 are essential: the
// session only completes when both were read and parsed.
func (a *Authenticator) readDataGroups(ctx context.Context, channel *secureChannel, result *Result) {
	sod := a.readSecurityObject(ctx, channel, result)

	essential := []uint16{FileDG1, FileDG2}
	groups := append(append([]uint16{}, essential...), a.config.AdditionalGroups...)

	contents := make(map[uint16][]byte, len(groups))
	for _, fileID := range groups {
		readCtx, cancel := context.WithTimeout(ctx, a.config.ReadTimeout)
		raw, err := readFile(readCtx, a.transport, channel, fileID)
		cancel()

		entry := DataGroupResult{FileID: fileID, Raw: raw, ReadSucceeded: err == nil, Err: err}
		result.DataGroups = append(result.DataGroups, entry)
		if err != nil {
			slog.Warn("Data group read failed", "file_id", fmt.Sprintf("%04X", fileID), "error", err)
			if errors.Is(err, ErrTimeout) {
				result.State = StateTimedOut
				result.Err = err
				return
			}
			continue
		}
		contents[fileID] = raw
	}

	a.parseDataGroups(contents, result)
	a.passiveAuthentication(sod, contents, result)
	a.activeAuthentication(ctx, channel, contents, result)

	for _, fileID := range essential {
		if _, ok := contents[fileID]; !ok {
			result.State = StateFailed
			result.Err = fmt.Errorf("%w: essential data group %04X missing", ErrDataGroupRead, fileID)
			return
		}
	}
	if result.MRZLine1 == "" || len(result.FaceImage) == 0 {
		result.State = StateFailed
		result.Err = fmt.Errorf("%w: essential data group contents unusable", ErrDataGroupRead)
		return
	}
	result.State = StateCompleted
}

func (a *Authenticator) readSecurityObject(ctx context.Context, channel *secureChannel, result *Result) *securityObject {
	readCtx, cancel := context.WithTimeout(ctx, a.config.ReadTimeout)
	defer cancel()

	raw, err := readFile(readCtx, a.transport, channel, FileSOD)
	if err != nil {
		slog.Warn("Security object read failed", "error", err)
		result.PassiveAuthFailed = true
		return nil
	}

	sod, err := parseSecurityObject(raw)
	if err != nil {
		slog.Warn("Security object parse failed", "error", err)
		result.PassiveAuthFailed = true
		return nil
	}
	return sod
}

func (a *Authenticator) parseDataGroups(contents map[uint16][]byte, result *Result) {
	if raw, ok := contents[FileDG1]; ok {
		line1, line2, err := parseDG1(raw)
		if err != nil {
			slog.Warn("DG1 parse failed", "error", err)
		} else {
			result.MRZLine1, result.MRZLine2 = line1, line2
		}
	}
	if raw, ok := contents[FileDG2]; ok {
		result.FaceImage = raw
	}
	if raw, ok := contents[FileDG11]; ok {
		if details, err := parseDG11(raw); err == nil {
			result.Personal = details
		}
	}
	if raw, ok := contents[FileDG12]; ok {
		if details, err := parseDG12(raw); err == nil {
			result.Document = details
		}
	}
}

// passiveAuthentication compares each data group against the signed hash
// list and checks the security object signature. Failures set an advisory
// flag on the result; they never abort the session.
func (a *Authenticator) passiveAuthentication(sod *securityObject, contents map[uint16][]byte, result *Result) {
	if sod == nil {
		result.PassiveAuthFailed = true
		return
	}

	for fileID, raw := range contents {
		number := dataGroupNumber(fileID)
		if number == 0 {
			continue
		}
		if err := sod.verifyDataGroup(number, raw); err != nil {
			slog.Warn("Passive authentication mismatch", "data_group", number, "error", err)
			result.PassiveAuthFailed = true
		}
	}

	if err := sod.verifySignature(); err != nil {
		slog.Warn("Security object signature invalid", "error", err)
		result.PassiveAuthFailed = true
	}
}

// activeAuthentication runs the DG15 challenge when the chip published an
// active authentication key. Failures are advisory.
func (a *Authenticator) activeAuthentication(ctx context.Context, channel *secureChannel, contents map[uint16][]byte, result *Result) {
	raw, ok := contents[FileDG15]
	if !ok {
		return
	}

	aaCtx, cancel := context.WithTimeout(ctx, a.config.ReadTimeout)
	defer cancel()

	if err := performActiveAuth(aaCtx, a.transport, channel, raw); err != nil {
		slog.Warn("Active authentication failed", "error", err)
		result.ActiveAuthFailed = true
	}
}
