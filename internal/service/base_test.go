package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceBase_PublishEvent(t *testing.T) {
	base := NewServiceBase("inference-engine", nil)
	assert.Equal(t, "inference-engine", base.Name())
	assert.Equal(t, "inference-engine", base.GetStatus().Name)

	// no bus attached yet
	base.PublishEvent(EventTypeModelLoaded, nil)

	bus := NewEventBus(4)
	base.SetEventBus(bus)
	assert.Same(t, bus, base.GetEventBus())

	ch := bus.Subscribe(EventTypeModelLoaded)
	base.PublishEvent(EventTypeModelLoaded, map[string]interface{}{"model_id": "v3"})

	ev := receive(t, ch)
	assert.Equal(t, "inference-engine", ev.Source)
	assert.Equal(t, "v3", ev.Data["model_id"])
}
