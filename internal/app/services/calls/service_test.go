package calls

import (
	"context"
	"io"
	"testing"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/dispatcher"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

func testService() (*Service, *dispatcher.Dispatcher) {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	disp := dispatcher.New()
	return New(disp, log), disp
}

func TestService_ValidCallIsRelayed(t *testing.T) {
	svc, disp := testService()

	var got map[string]any
	disp.Subscribe(Domain, func(p map[string]any) { got = p })

	err := svc.Call(context.Background(), ServiceSetAbsolutePosition, map[string]any{
		AttrEntityID:         []string{"cover.living_room"},
		AttrAbsolutePosition: 75,
		AttrWidth:            50,
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got == nil {
		t.Fatal("call not relayed")
	}
	if got[AttrMethod] != ServiceSetAbsolutePosition {
		t.Fatalf("method not stamped: %v", got)
	}
}

func TestService_InvalidPayloadNeverReachesDispatcher(t *testing.T) {
	svc, disp := testService()

	delivered := false
	disp.Subscribe(Domain, func(map[string]any) { delivered = true })

	cases := []map[string]any{
		{AttrAbsolutePosition: 50},                                                    // missing entity ids
		{AttrEntityID: []string{"cover.x"}},                                           // missing position
		{AttrEntityID: []string{"cover.x"}, AttrAbsolutePosition: 101},                // position out of range
		{AttrEntityID: []string{"cover.x"}, AttrAbsolutePosition: -1},                 // negative position
		{AttrEntityID: []string{"cover.x"}, AttrAbsolutePosition: 50, AttrWidth: 101}, // width out of range
		{AttrEntityID: []any{42}, AttrAbsolutePosition: 50},                           // non-string entity id
	}
	for i, data := range cases {
		if err := svc.Call(context.Background(), ServiceSetAbsolutePosition, data); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if delivered {
		t.Fatal("invalid payload reached the dispatcher")
	}
}

func TestService_UnknownServiceRejected(t *testing.T) {
	svc, _ := testService()
	if err := svc.Call(context.Background(), "open_sesame", nil); err == nil {
		t.Fatal("expected unknown service error")
	}
}

func TestEntityIDs(t *testing.T) {
	ids, err := EntityIDs(map[string]any{AttrEntityID: "all"})
	if err != nil || len(ids) != 1 || ids[0] != "all" {
		t.Fatalf("single id: %v %v", ids, err)
	}

	ids, err = EntityIDs(map[string]any{AttrEntityID: []any{"cover.a", "cover.b"}})
	if err != nil || len(ids) != 2 {
		t.Fatalf("list of ids: %v %v", ids, err)
	}

	if _, err := EntityIDs(map[string]any{}); err == nil {
		t.Fatal("expected error for missing entity ids")
	}
}

func TestService_JSONNumbersAccepted(t *testing.T) {
	svc, disp := testService()

	relayed := false
	disp.Subscribe(Domain, func(map[string]any) { relayed = true })

	// float64 is what encoding/json produces for numbers.
	err := svc.Call(context.Background(), ServiceSetAbsolutePosition, map[string]any{
		AttrEntityID:         "cover.kitchen",
		AttrAbsolutePosition: float64(30),
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !relayed {
		t.Fatal("call not relayed")
	}
}
