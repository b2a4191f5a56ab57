// Package calls validates and relays custom service calls to listening
// entities.
package calls

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/dispatcher"
	"github.com/starkillerOG/HA-motion-blinds/internal/app/metrics"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

// Domain is the dispatcher signal service calls are relayed on.
const Domain = "motion_blinds"

// ServiceSetAbsolutePosition moves a blind to an absolute position.
const ServiceSetAbsolutePosition = "set_absolute_position"

// Payload keys.
const (
	AttrEntityID         = "entity_id"
	AttrAbsolutePosition = "absolute_position"
	AttrWidth            = "width"
	AttrMethod           = "method"
)

// Schema validates a service call payload.
type Schema func(data map[string]any) error

// Service relays validated service calls via the dispatcher.
type Service struct {
	dispatcher *dispatcher.Dispatcher
	log        *logger.Logger
	limiter    *rate.Limiter
	services   map[string]Schema
}

// New constructs the service-call relay with the built-in service table.
func New(disp *dispatcher.Dispatcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("calls")
	}
	return &Service{
		dispatcher: disp,
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		services: map[string]Schema{
			ServiceSetAbsolutePosition: setAbsolutePositionSchema,
		},
	}
}

// Services lists the registered service names.
func (s *Service) Services() []string {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	return names
}

// Call validates the payload, stamps the method field and relays the call on
// the domain signal. A rejected payload never reaches the dispatcher.
func (s *Service) Call(ctx context.Context, service string, data map[string]any) error {
	schema, ok := s.services[service]
	if !ok {
		metrics.RecordServiceCall(service, "unknown")
		return fmt.Errorf("unknown service %s", service)
	}
	if err := schema(data); err != nil {
		metrics.RecordServiceCall(service, "invalid")
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		metrics.RecordServiceCall(service, "rate_limited")
		return err
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload[AttrMethod] = service

	s.dispatcher.Send(Domain, payload)
	metrics.RecordServiceCall(service, "dispatched")
	s.log.WithField("service", service).Debug("service call dispatched")
	return nil
}

func setAbsolutePositionSchema(data map[string]any) error {
	if _, err := EntityIDs(data); err != nil {
		return err
	}

	position, ok := intValue(data[AttrAbsolutePosition])
	if !ok {
		return fmt.Errorf("%s is required", AttrAbsolutePosition)
	}
	if position < 0 || position > 100 {
		return fmt.Errorf("%s must be within 0..100, got %d", AttrAbsolutePosition, position)
	}

	if raw, present := data[AttrWidth]; present {
		width, ok := intValue(raw)
		if !ok {
			return fmt.Errorf("%s must be an integer", AttrWidth)
		}
		if width < 0 || width > 100 {
			return fmt.Errorf("%s must be within 0..100, got %d", AttrWidth, width)
		}
	}
	return nil
}

// EntityIDs extracts the target entity ids from a payload. The value may be a
// single id, a list of ids, or the literal "all".
func EntityIDs(data map[string]any) ([]string, error) {
	raw, present := data[AttrEntityID]
	if !present {
		return nil, fmt.Errorf("%s is required", AttrEntityID)
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%s cannot be empty", AttrEntityID)
		}
		return []string{v}, nil
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", AttrEntityID)
		}
		return v, nil
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", AttrEntityID)
		}
		ids := make([]string, 0, len(v))
		for _, item := range v {
			id, ok := item.(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("%s entries must be strings", AttrEntityID)
			}
			ids = append(ids, id)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("%s must be a string or list of strings", AttrEntityID)
	}
}

// intValue coerces JSON-decoded numbers and plain ints.
func intValue(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}
