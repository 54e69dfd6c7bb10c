package system

import (
	"context"
	"errors"
	"testing"
)

type probeService struct {
	name     string
	started  int
	stopped  int
	startErr error
}

func (p *probeService) Name() string { return p.name }

func (p *probeService) Start(context.Context) error {
	p.started++
	return p.startErr
}

func (p *probeService) Stop(context.Context) error {
	p.stopped++
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	m := NewManager()
	a := &probeService{name: "a"}
	b := &probeService{name: "b"}

	for _, svc := range []*probeService{a, b} {
		if err := m.Register(svc); err != nil {
			t.Fatalf("register %s: %v", svc.name, err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.started != 1 || b.started != 1 {
		t.Fatalf("expected both services started once: %d %d", a.started, b.started)
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.stopped != 1 || b.stopped != 1 {
		t.Fatalf("expected both services stopped once: %d %d", a.stopped, b.stopped)
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	m := NewManager()
	ok := &probeService{name: "ok"}
	bad := &probeService{name: "bad", startErr: errors.New("boom")}

	if err := m.Register(ok); err != nil {
		t.Fatalf("register ok: %v", err)
	}
	if err := m.Register(bad); err != nil {
		t.Fatalf("register bad: %v", err)
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start failure")
	}
	if ok.stopped != 1 {
		t.Fatalf("expected started services to be rolled back, stopped=%d", ok.stopped)
	}
}

func TestManagerRejectsDuplicatesAndNil(t *testing.T) {
	m := NewManager()
	if err := m.Register(nil); err == nil {
		t.Fatalf("expected error registering nil")
	}
	svc := &probeService{name: "a"}
	if err := m.Register(svc); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&probeService{name: "a"}); err == nil {
		t.Fatalf("expected duplicate name rejection")
	}
}
