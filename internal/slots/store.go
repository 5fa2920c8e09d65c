package slots

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Kind names which slot array changed.
type Kind string

const (
	KindButtons  Kind = "buttons"
	KindDisplays Kind = "displays"
)

// Change is delivered to OnChange listeners after a successful update.
type Change struct {
	Kind    Kind
	Indices []int
}

// Logger is the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store holds the button and display slot arrays in memory and writes
// changes through to the repository.
type Store struct {
	repo   Repository
	logger Logger

	mu       sync.RWMutex
	buttons  [MaxConfigurations]ButtonSlot
	displays [MaxConfigurations]DisplaySlot

	listenerMu sync.RWMutex
	listeners  []func(Change)
}

// NewStore creates a store populated with defaults. Call Load to read
// persisted slots.
func NewStore(repo Repository) *Store {
	s := &Store{repo: repo, logger: noopLogger{}}
	for i := range MaxConfigurations {
		s.buttons[i] = DefaultButtonSlot(i)
		s.displays[i] = DefaultDisplaySlot(i)
	}
	return s
}

// SetLogger sets the logger.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Load reads persisted slots, back-filling missing indices with defaults.
// Stored rows outside the valid index range are ignored.
func (s *Store) Load(ctx context.Context) error {
	buttons, err := s.repo.LoadButtonSlots(ctx)
	if err != nil {
		return fmt.Errorf("loading button slots: %w", err)
	}
	displays, err := s.repo.LoadDisplaySlots(ctx)
	if err != nil {
		return fmt.Errorf("loading display slots: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range MaxConfigurations {
		if b, ok := buttons[i]; ok {
			s.buttons[i] = NormalizeButtonSlot(i, b)
		} else {
			s.buttons[i] = DefaultButtonSlot(i)
		}
		if d, ok := displays[i]; ok {
			s.displays[i] = NormalizeDisplaySlot(i, d)
		} else {
			s.displays[i] = DefaultDisplaySlot(i)
		}
	}
	s.logger.Info("slots loaded", "button_slots", len(buttons), "display_slots", len(displays))
	return nil
}

// OnChange registers fn to be called after every successful update.
func (s *Store) OnChange(fn func(Change)) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

func (s *Store) notify(c Change) {
	if len(c.Indices) == 0 {
		return
	}
	s.listenerMu.RLock()
	listeners := append([]func(Change){}, s.listeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

func checkIndex(idx int) error {
	if idx < 0 || idx >= MaxConfigurations {
		return fmt.Errorf("%w: %d", ErrInvalidConfigIndex, idx)
	}
	return nil
}

// ButtonSlots returns a copy of all button slots.
func (s *Store) ButtonSlots() []ButtonSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ButtonSlot, MaxConfigurations)
	for i, b := range s.buttons {
		out[i] = NormalizeButtonSlot(i, b)
	}
	return out
}

// ButtonSlot returns a copy of slot idx.
func (s *Store) ButtonSlot(idx int) (ButtonSlot, error) {
	if err := checkIndex(idx); err != nil {
		return ButtonSlot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return NormalizeButtonSlot(idx, s.buttons[idx]), nil
}

// SetButtonSlots replaces the whole button array. Shorter input is
// back-filled with defaults; extra entries are dropped.
func (s *Store) SetButtonSlots(ctx context.Context, in []ButtonSlot) error {
	next := make(map[int]ButtonSlot, MaxConfigurations)
	for i := range MaxConfigurations {
		if i < len(in) {
			next[i] = NormalizeButtonSlot(i, in[i])
		} else {
			next[i] = DefaultButtonSlot(i)
		}
	}
	return s.applyButtons(ctx, next)
}

// SetButtonSlot replaces one button slot.
func (s *Store) SetButtonSlot(ctx context.Context, idx int, slot ButtonSlot) error {
	if err := checkIndex(idx); err != nil {
		return err
	}
	return s.applyButtons(ctx, map[int]ButtonSlot{idx: NormalizeButtonSlot(idx, slot)})
}

func (s *Store) applyButtons(ctx context.Context, next map[int]ButtonSlot) error {
	var changed []int
	s.mu.Lock()
	for i := range MaxConfigurations {
		slot, ok := next[i]
		if !ok || reflect.DeepEqual(s.buttons[i], slot) {
			continue
		}
		if err := s.repo.SaveButtonSlot(ctx, i, slot); err != nil {
			s.mu.Unlock()
			s.notify(Change{Kind: KindButtons, Indices: changed})
			return err
		}
		s.buttons[i] = slot
		changed = append(changed, i)
	}
	s.mu.Unlock()

	if len(changed) > 0 {
		s.logger.Info("button slots updated", "indices", changed)
	}
	s.notify(Change{Kind: KindButtons, Indices: changed})
	return nil
}

// DisplaySlots returns a copy of all display slots.
func (s *Store) DisplaySlots() []DisplaySlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DisplaySlot, MaxConfigurations)
	for i, d := range s.displays {
		out[i] = NormalizeDisplaySlot(i, d)
	}
	return out
}

// DisplaySlot returns a copy of slot idx.
func (s *Store) DisplaySlot(idx int) (DisplaySlot, error) {
	if err := checkIndex(idx); err != nil {
		return DisplaySlot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return NormalizeDisplaySlot(idx, s.displays[idx]), nil
}

// SetDisplaySlots replaces the whole display array.
func (s *Store) SetDisplaySlots(ctx context.Context, in []DisplaySlot) error {
	next := make(map[int]DisplaySlot, MaxConfigurations)
	for i := range MaxConfigurations {
		if i < len(in) {
			next[i] = NormalizeDisplaySlot(i, in[i])
		} else {
			next[i] = DefaultDisplaySlot(i)
		}
	}
	return s.applyDisplays(ctx, next)
}

// SetDisplaySlot replaces one display slot.
func (s *Store) SetDisplaySlot(ctx context.Context, idx int, slot DisplaySlot) error {
	if err := checkIndex(idx); err != nil {
		return err
	}
	return s.applyDisplays(ctx, map[int]DisplaySlot{idx: NormalizeDisplaySlot(idx, slot)})
}

func (s *Store) applyDisplays(ctx context.Context, next map[int]DisplaySlot) error {
	var changed []int
	s.mu.Lock()
	for i := range MaxConfigurations {
		slot, ok := next[i]
		if !ok || reflect.DeepEqual(NormalizeDisplaySlot(i, s.displays[i]), slot) {
			continue
		}
		if err := s.repo.SaveDisplaySlot(ctx, i, slot); err != nil {
			s.mu.Unlock()
			s.notify(Change{Kind: KindDisplays, Indices: changed})
			return err
		}
		s.displays[i] = slot
		changed = append(changed, i)
	}
	s.mu.Unlock()

	if len(changed) > 0 {
		s.logger.Info("display slots updated", "indices", changed)
	}
	s.notify(Change{Kind: KindDisplays, Indices: changed})
	return nil
}
