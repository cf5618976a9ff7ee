// Package a010 drives a MaixSense-A010 ToF camera over its USB serial link:
// it opens the port, applies the device configuration with acknowledged AT
// commands and pushes every decoded depth frame into a queue.Strategy from
// a dedicated producer goroutine.
package a010

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tofcam/internal/calibration"
	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/protocol"
	"github.com/banshee-data/tofcam/internal/queue"
	"github.com/banshee-data/tofcam/internal/serialmux"
)

// MaxFPS is the highest frame rate the device accepts.
const MaxFPS = protocol.MaxFPS

// terminateWait bounds how long Terminate waits for the producer to exit.
const terminateWait = 2 * time.Second

var (
	// ErrNotInitialised is returned by setters called before Initialise or
	// after Terminate.
	ErrNotInitialised = errors.New("a010: driver not initialised")
	// ErrTerminated is returned by Initialise after Terminate.
	ErrTerminated = errors.New("a010: driver terminated")
	// ErrInvalidFPS is returned for a frame rate below 1.
	ErrInvalidFPS = errors.New("a010: frame rate must be positive")
	// ErrInvalidBinning is returned for an unknown binning mode.
	ErrInvalidBinning = errors.New("a010: unknown binning mode")
)

// Stats counts frames seen by the producer.
type Stats struct {
	Frames  uint64
	Dropped uint64
}

// Option configures a Driver.
type Option func(*Driver)

// WithOpener replaces the function used to open the serial port.
func WithOpener(open serialmux.SerialPortOpener) Option {
	return func(d *Driver) { d.open = open }
}

// WithPortOptions sets the serial line parameters.
func WithPortOptions(opts serialmux.PortOptions) Option {
	return func(d *Driver) { d.portOpts = opts }
}

// WithCommandTimeout bounds the wait for each command acknowledgement.
func WithCommandTimeout(t time.Duration) Option {
	return func(d *Driver) { d.commandTimeout = t }
}

// WithReadTimeout bounds each transport read.
func WithReadTimeout(t time.Duration) Option {
	return func(d *Driver) { d.readTimeout = t }
}

type strategyBox struct{ s queue.Strategy }

// Driver is the live frame source for one sensor.
type Driver struct {
	path           string
	open           serialmux.SerialPortOpener
	portOpts       serialmux.PortOptions
	commandTimeout time.Duration
	readTimeout    time.Duration

	// initMu serialises Initialise calls.
	initMu sync.Mutex

	mu         sync.Mutex
	mux        *serialmux.SerialMux[serialmux.SerialPorter]
	cancel     context.CancelFunc
	done       chan struct{}
	terminated bool

	errMu   sync.Mutex
	exitErr error

	// configMu serialises setters so applied and display track the order
	// the device acknowledged them in.
	configMu sync.Mutex
	applied  map[string]string
	display  int

	strategy atomic.Pointer[strategyBox]
	onClosed atomic.Pointer[func(error)]
	onUnit   atomic.Pointer[func(int)]
	size     atomic.Int32
	unit     atomic.Int32
	frames   atomic.Uint64
	dropped  atomic.Uint64
}

// NewDriver creates a driver for the device at path. An empty path selects
// the first attached sensor found by USB identifiers.
func NewDriver(path string, opts ...Option) *Driver {
	d := &Driver{
		path:           path,
		open:           serialmux.OpenSerialPort,
		commandTimeout: serialmux.DefaultCommandTimeout,
		readTimeout:    serialmux.DefaultReadTimeout,
		applied:        make(map[string]string),
		// power-on routing
		display: protocol.DisplayLcd | protocol.DisplayUsb,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetStrategy selects what happens to each decoded frame. It may be called
// at any time; frames decoded while no strategy is set are discarded.
func (d *Driver) SetStrategy(s queue.Strategy) {
	if s == nil {
		d.strategy.Store(nil)
		return
	}
	d.strategy.Store(&strategyBox{s: s})
}

// OnClosed registers fn to be called, on the producer goroutine, when the
// serial channel closes underneath the driver. It is not called for a
// shutdown started by Terminate, nor when Initialise fails.
func (d *Driver) OnClosed(fn func(error)) {
	d.onClosed.Store(&fn)
}

// OnQuantizationUnit registers fn to be called whenever the device
// acknowledges a new quantization unit, whether set through the driver or
// typed into the debug console.
func (d *Driver) OnQuantizationUnit(fn func(unit int)) {
	d.onUnit.Store(&fn)
}

// Path returns the device path, resolved by Initialise when auto-detecting.
func (d *Driver) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// Initialise opens the serial port, starts the producer and checks the
// device answers. Failures are *serialmux.ConnectionError. Calling it again
// after success is a no-op. d.mu is only held to read and publish state, so
// Path and the OnClosed hook never wait on the handshake.
func (d *Driver) Initialise(ctx context.Context) error {
	d.initMu.Lock()
	defer d.initMu.Unlock()

	d.mu.Lock()
	terminated, running, path := d.terminated, d.mux != nil, d.path
	d.mu.Unlock()
	if terminated {
		return ErrTerminated
	}
	if running {
		return nil
	}

	if path == "" {
		found, err := serialmux.FindDevicePort()
		if err != nil {
			return &serialmux.ConnectionError{Path: "<auto>", Err: err}
		}
		log.Printf("[a010] found sensor at %s", found)
		path = found
		d.mu.Lock()
		d.path = path
		d.mu.Unlock()
	}

	mux, err := serialmux.NewSerialMuxFromOpener(d.open, path, d.portOpts)
	if err != nil {
		return err
	}
	mux.SetReadTimeout(d.readTimeout)
	mux.SetCommandTimeout(d.commandTimeout)
	mux.SetPacketHandler(d.onPacket)
	mux.SetCommandHook(d.onConsoleCommand)

	monitorCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go d.produce(monitorCtx, mux, path, done)
	stop := func() {
		cancel()
		mux.Close()
		<-done
	}

	if err := mux.SendCommand(ctx, protocol.Attention); err != nil {
		stop()
		return &serialmux.ConnectionError{Path: path, Err: err}
	}

	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		stop()
		return ErrTerminated
	}
	d.mux = mux
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()
	log.Printf("[a010] connected to %s", path)
	return nil
}

func (d *Driver) produce(ctx context.Context, mux *serialmux.SerialMux[serialmux.SerialPorter], path string, done chan struct{}) {
	defer close(done)
	err := mux.Monitor(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	d.errMu.Lock()
	d.exitErr = err
	d.errMu.Unlock()
	log.Printf("[a010] %s: producer stopped: %v", path, err)

	// only a connection Initialise handed out, and Terminate has not
	// taken back, counts as closed underneath the caller
	d.mu.Lock()
	published := d.mux == mux
	d.mu.Unlock()
	if !published {
		return
	}
	if fn := d.onClosed.Load(); fn != nil && *fn != nil {
		(*fn)(err)
	}
}

func (d *Driver) onPacket(p protocol.Packet) {
	f, err := p.Frame()
	if err != nil {
		d.dropped.Add(1)
		monitoring.Debugf("[a010] dropping packet %d: %v", p.FrameID, err)
		return
	}
	if want := int(d.size.Load()); want != 0 && (f.Rows() != want || f.Cols() != want) {
		d.dropped.Add(1)
		monitoring.Debugf("[a010] dropping %s frame %d, binning is %dx%d", f, p.FrameID, want, want)
		return
	}
	d.frames.Add(1)
	if box := d.strategy.Load(); box != nil {
		box.s.OnFrame(f)
	}
}

// Err returns the fault that stopped the producer, if any.
func (d *Driver) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.exitErr
}

// Run blocks until ctx ends or the producer stops, returning the fault that
// stopped it. Frames flow to the strategy from Initialise onwards.
func (d *Driver) Run(ctx context.Context) error {
	done := d.Done()
	if done == nil {
		return ErrNotInitialised
	}
	select {
	case <-ctx.Done():
		return nil
	case <-done:
		return d.Err()
	}
}

// Close is Terminate.
func (d *Driver) Close() error { return d.Terminate() }

// Done is closed when the producer goroutine exits. It is nil before
// Initialise succeeds.
func (d *Driver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Stats returns the producer counters.
func (d *Driver) Stats() Stats {
	return Stats{Frames: d.frames.Load(), Dropped: d.dropped.Load()}
}

// QuantizationUnit returns the last acknowledged quantization unit.
func (d *Driver) QuantizationUnit() int { return int(d.unit.Load()) }

// AttachAdminRoutes mounts the serial console debug pages for this sensor.
func (d *Driver) AttachAdminRoutes(mux *http.ServeMux) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mux == nil {
		return ErrNotInitialised
	}
	d.mux.AttachAdminRoutes(mux)
	return nil
}

// Terminate stops the producer and closes the port. It is safe to call more
// than once; only the first call does any work. A close failure is returned
// and logged but shutdown still completes.
func (d *Driver) Terminate() error {
	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		return nil
	}
	d.terminated = true
	mux, cancel, done, path := d.mux, d.cancel, d.done, d.path
	d.mux = nil
	d.mu.Unlock()

	if mux == nil {
		return nil
	}
	cancel()
	err := mux.Close()
	if err != nil {
		err = fmt.Errorf("failed to close %s: %w", path, err)
		log.Printf("[a010] %v", err)
	}

	select {
	case <-done:
	case <-time.After(terminateWait):
		log.Printf("[a010] %s: producer did not exit within %v", path, terminateWait)
	}
	return err
}

// send issues cmd unless the device already acknowledged the same value.
func (d *Driver) send(ctx context.Context, cmd protocol.Command) error {
	d.mu.Lock()
	mux := d.mux
	d.mu.Unlock()
	if mux == nil {
		return ErrNotInitialised
	}

	if v, ok := d.applied[cmd.Name]; ok && v == cmd.Value {
		return nil
	}
	if err := mux.SendCommand(ctx, cmd); err != nil {
		return err
	}
	d.applied[cmd.Name] = cmd.Value
	return nil
}

// SetBinning selects the frame resolution. Frames of any other size are
// dropped from then on.
func (d *Driver) SetBinning(ctx context.Context, b frame.Binning) error {
	if !b.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidBinning, int(b))
	}
	d.configMu.Lock()
	defer d.configMu.Unlock()
	if err := d.send(ctx, protocol.Binning(b)); err != nil {
		return err
	}
	d.size.Store(int32(b.Size()))
	return nil
}

// SetBinning100x100 is shorthand for SetBinning(ctx, frame.Binning100x100).
func (d *Driver) SetBinning100x100(ctx context.Context) error {
	return d.SetBinning(ctx, frame.Binning100x100)
}

// SetBinning50x50 is shorthand for SetBinning(ctx, frame.Binning50x50).
func (d *Driver) SetBinning50x50(ctx context.Context) error {
	return d.SetBinning(ctx, frame.Binning50x50)
}

// SetBinning25x25 is shorthand for SetBinning(ctx, frame.Binning25x25).
func (d *Driver) SetBinning25x25(ctx context.Context) error {
	return d.SetBinning(ctx, frame.Binning25x25)
}

// SetFPS sets the streaming rate. Rates above MaxFPS are clamped with a
// warning.
func (d *Driver) SetFPS(ctx context.Context, fps int) error {
	if fps < protocol.MinFPS {
		return fmt.Errorf("%w: got %d", ErrInvalidFPS, fps)
	}
	if fps > MaxFPS {
		monitoring.Warnf("frame rate %d exceeds the device maximum; using %d", fps, MaxFPS)
		fps = MaxFPS
	}
	d.configMu.Lock()
	defer d.configMu.Unlock()
	return d.send(ctx, protocol.FPS(fps))
}

// SetQuantizationUnit selects the depth encoding. Units outside [0,9] are
// replaced by 0 with a warning rather than rejected.
func (d *Driver) SetQuantizationUnit(ctx context.Context, unit int) error {
	unit = calibration.ValidQuantizationUnit(unit)
	d.configMu.Lock()
	defer d.configMu.Unlock()
	if err := d.send(ctx, protocol.QuantizationUnit(unit)); err != nil {
		return err
	}
	d.storeUnit(unit)
	return nil
}

// storeUnit records an acknowledged unit. configMu is held.
func (d *Driver) storeUnit(unit int) {
	d.unit.Store(int32(unit))
	if fn := d.onUnit.Load(); fn != nil && *fn != nil {
		(*fn)(unit)
	}
}

// onConsoleCommand keeps the driver's view of the device in step with
// commands typed into the debug console. An acknowledged value is recorded
// as if a setter had sent it; after a failure the device state is unknown,
// so the next setter for that name always goes to the device.
func (d *Driver) onConsoleCommand(cmd protocol.Command, err error) {
	if cmd.Name == "" {
		return
	}
	d.configMu.Lock()
	defer d.configMu.Unlock()

	if err != nil {
		delete(d.applied, cmd.Name)
		return
	}
	d.applied[cmd.Name] = cmd.Value

	v, convErr := strconv.Atoi(cmd.Value)
	switch cmd.Name {
	case "BINN":
		// an unrecognised mode leaves the frame size unchecked
		size := 0
		if convErr == nil {
			switch v {
			case 1:
				size = frame.Binning100x100.Size()
			case 2:
				size = frame.Binning50x50.Size()
			case 4:
				size = frame.Binning25x25.Size()
			}
		}
		d.size.Store(int32(size))
	case "UNIT":
		if convErr == nil && v >= 0 && v <= protocol.MaxQuantizationUnit {
			d.storeUnit(v)
		}
	case "DISP":
		if convErr == nil {
			d.display = v & (protocol.DisplayLcd | protocol.DisplayUsb | protocol.DisplayUart)
		}
	}
	log.Printf("[a010] %s set from the console", cmd)
}

func (d *Driver) setDisplay(ctx context.Context, bit int, on bool) error {
	d.configMu.Lock()
	defer d.configMu.Unlock()
	mask := d.display &^ bit
	if on {
		mask |= bit
	}
	if err := d.send(ctx, protocol.Display(mask)); err != nil {
		return err
	}
	d.display = mask
	return nil
}

func (d *Driver) SetDisplayLcdOn(ctx context.Context) error {
	return d.setDisplay(ctx, protocol.DisplayLcd, true)
}

func (d *Driver) SetDisplayLcdOff(ctx context.Context) error {
	return d.setDisplay(ctx, protocol.DisplayLcd, false)
}

func (d *Driver) SetDisplayUsbOn(ctx context.Context) error {
	return d.setDisplay(ctx, protocol.DisplayUsb, true)
}

func (d *Driver) SetDisplayUsbOff(ctx context.Context) error {
	return d.setDisplay(ctx, protocol.DisplayUsb, false)
}

func (d *Driver) SetDisplayUartOn(ctx context.Context) error {
	return d.setDisplay(ctx, protocol.DisplayUart, true)
}

func (d *Driver) SetDisplayUartOff(ctx context.Context) error {
	return d.setDisplay(ctx, protocol.DisplayUart, false)
}

func (d *Driver) SetAntiMultiMachineInterferenceOn(ctx context.Context) error {
	d.configMu.Lock()
	defer d.configMu.Unlock()
	return d.send(ctx, protocol.AntiMultiMachineInterference(true))
}

func (d *Driver) SetAntiMultiMachineInterferenceOff(ctx context.Context) error {
	d.configMu.Lock()
	defer d.configMu.Unlock()
	return d.send(ctx, protocol.AntiMultiMachineInterference(false))
}

func (d *Driver) SetExposureTimeAutoOn(ctx context.Context) error {
	d.configMu.Lock()
	defer d.configMu.Unlock()
	return d.send(ctx, protocol.AutoExposure())
}

// SetImageSignalProcessorOn starts depth streaming.
func (d *Driver) SetImageSignalProcessorOn(ctx context.Context) error {
	d.configMu.Lock()
	defer d.configMu.Unlock()
	return d.send(ctx, protocol.ImageSignalProcessor(true))
}

// SetImageSignalProcessorOff stops depth streaming.
func (d *Driver) SetImageSignalProcessorOff(ctx context.Context) error {
	d.configMu.Lock()
	defer d.configMu.Unlock()
	return d.send(ctx, protocol.ImageSignalProcessor(false))
}
