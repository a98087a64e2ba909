package fsensor

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/filament-sensor/internal/logging"
)

// maxWindow bounds the moving average so the filter never allocates.
const maxWindow = 32

// ADC classification defaults, in raw sample units.
const (
	DefaultWindowSize = 8
	DefaultLowerLimit = 2000
	DefaultUpperLimit = 2000000
	DefaultSpan       = 350000
)

// CalibrationStore persists the no-filament reference of ADC sensors.
type CalibrationStore interface {
	LoadReference(sensor string) (int32, bool)
	SaveReference(sensor string, ref int32) error
	ClearReference(sensor string) error
}

// MemoryStore is a CalibrationStore kept in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	refs map[string]int32
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{refs: make(map[string]int32)}
}

func (m *MemoryStore) LoadReference(sensor string) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.refs[sensor]
	return ref, ok
}

func (m *MemoryStore) SaveReference(sensor string, ref int32) error {
	m.mu.Lock()
	m.refs[sensor] = ref
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ClearReference(sensor string) error {
	m.mu.Lock()
	delete(m.refs, sensor)
	m.mu.Unlock()
	return nil
}

// ADCConfig configures an ADCSensor.
type ADCConfig struct {
	Name       string
	WindowSize int
	// Filtered values outside [LowerLimit, UpperLimit] mean a disconnected
	// or shorted sensor.
	LowerLimit int32
	UpperLimit int32
	// Span is the minimum distance from the no-filament reference that
	// counts as filament present.
	Span  int32
	Store CalibrationStore
}

// DefaultADCConfig returns the default thresholds for the named sensor.
func DefaultADCConfig(name string) ADCConfig {
	return ADCConfig{
		Name:       name,
		WindowSize: DefaultWindowSize,
		LowerLimit: DefaultLowerLimit,
		UpperLimit: DefaultUpperLimit,
		Span:       DefaultSpan,
	}
}

// window is a moving average written only by the sample producer.
type window struct {
	buf  [maxWindow]int32
	size int
	n    int
	pos  int
	sum  int64
}

func (w *window) reset() {
	w.n = 0
	w.pos = 0
	w.sum = 0
}

func (w *window) add(v int32) int32 {
	if w.n == w.size {
		w.sum -= int64(w.buf[w.pos])
	} else {
		w.n++
	}
	w.buf[w.pos] = v
	w.sum += int64(v)
	w.pos = (w.pos + 1) % w.size
	return int32(w.sum / int64(w.n))
}

// ADCSensor classifies an analog filament sensor against a calibrated
// no-filament reference.
type ADCSensor struct {
	base
	cfg ADCConfig
	log *logrus.Entry

	win      window
	filtered atomic.Int32

	ref          atomic.Int32
	calibrateReq atomic.Uint32
	loadSettings atomic.Bool
	invalidate   atomic.Bool
}

// NewADCSensor creates a disabled ADC sensor. The reference is loaded from
// the store on the first Cycle.
func NewADCSensor(cfg ADCConfig) *ADCSensor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.WindowSize > maxWindow {
		cfg.WindowSize = maxWindow
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	s := &ADCSensor{
		base: base{name: cfg.Name},
		cfg:  cfg,
		log:  logging.NewLogger("fsensor"),
	}
	s.win.size = cfg.WindowSize
	s.filtered.Store(UndefinedValue)
	s.ref.Store(UndefinedValue)
	s.loadSettings.Store(true)
	return s
}

// ProcessSample feeds one raw reading into the moving average.
func (s *ADCSensor) ProcessSample(raw int32) {
	if raw == UndefinedValue {
		s.win.reset()
		s.filtered.Store(UndefinedValue)
		return
	}
	s.filtered.Store(s.win.add(raw))
}

func (s *ADCSensor) FilteredValue() int32 { return s.filtered.Load() }

// Reference returns the calibrated no-filament value or UndefinedValue.
func (s *ADCSensor) Reference() int32 { return s.ref.Load() }

func (s *ADCSensor) SetCalibrateRequest(req CalibrateRequest) {
	s.calibrateReq.Store(uint32(req))
}

func (s *ADCSensor) IsCalibrationFinished() bool {
	return CalibrateRequest(s.calibrateReq.Load()) == NoCalibration
}

func (s *ADCSensor) SetLoadSettingsFlag() { s.loadSettings.Store(true) }

func (s *ADCSensor) SetInvalidateCalibrationFlag() { s.invalidate.Store(true) }

func (s *ADCSensor) Cycle() {
	if s.loadSettings.Swap(false) {
		if ref, ok := s.cfg.Store.LoadReference(s.name); ok {
			s.ref.Store(ref)
		} else {
			s.ref.Store(UndefinedValue)
		}
	}
	if s.invalidate.Swap(false) {
		s.invalidateCalibration()
	}

	filtered := s.filtered.Load()
	s.calibrate(filtered)
	s.setState(s.evaluate(filtered))
}

func (s *ADCSensor) calibrate(filtered int32) {
	req := CalibrateRequest(s.calibrateReq.Load())
	switch req {
	case CalibrateNoFilament:
		if filtered == UndefinedValue || !s.inLimits(filtered) {
			s.log.Warnf("%s: cannot calibrate, reading %d out of range", s.name, filtered)
			s.invalidateCalibration()
			break
		}
		s.ref.Store(filtered)
		if err := s.cfg.Store.SaveReference(s.name, filtered); err != nil {
			s.log.Errorf("%s: save calibration: %v", s.name, err)
		}
		s.log.Infof("%s: calibrated no-filament reference %d", s.name, filtered)
	case CalibrateHasFilament:
		ref := s.ref.Load()
		if ref == UndefinedValue || filtered == UndefinedValue || abs64(int64(filtered)-int64(ref)) <= int64(s.cfg.Span) {
			s.log.Warnf("%s: filament not distinguishable from reference (value=%d ref=%d)", s.name, filtered, ref)
			s.invalidateCalibration()
		}
	default:
		return
	}
	// A newer request placed during this cycle wins.
	s.calibrateReq.CompareAndSwap(uint32(req), uint32(NoCalibration))
}

func (s *ADCSensor) invalidateCalibration() {
	s.ref.Store(UndefinedValue)
	if err := s.cfg.Store.ClearReference(s.name); err != nil {
		s.log.Errorf("%s: clear calibration: %v", s.name, err)
	}
}

func (s *ADCSensor) inLimits(v int32) bool {
	return v >= s.cfg.LowerLimit && v <= s.cfg.UpperLimit
}

func (s *ADCSensor) evaluate(filtered int32) State {
	if !s.isEnabled() {
		return StateDisabled
	}
	ref := s.ref.Load()
	if ref == UndefinedValue {
		return StateNotCalibrated
	}
	if filtered == UndefinedValue || !s.inLimits(filtered) {
		return StateNotConnected
	}
	if abs64(int64(filtered)-int64(ref)) > int64(s.cfg.Span) {
		return StateHasFilament
	}
	return StateNoFilament
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
