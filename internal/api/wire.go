//go:build wireinject

//go:generate wire

package api

import (
	"testing"

	"github.com/google/wire"
	"github.com/ulfberto/zerocloud/internal/compute/transport"
	"github.com/ulfberto/zerocloud/internal/config"
)

// INJECTORS - https://github.com/google/wire/blob/main/docs/guide.md#injectors

// serviceSet groups the default set of providers that are required for initing a server
var serviceSet = wire.NewSet(
	newServerWithComponents,
	NewClock,
	storeSet,
	computeSet,
)

var storeSet = wire.NewSet(
	NewTaskStore,
	NewRecorder,
)

var computeSet = wire.NewSet(
	NewTable,
	NewRegistry,
	NewAssembler,
	NewSender,
	NewEngine,
	NewProber,
	NewPlanner,
	NewExecutor,
	NewCoordinator,
)

// InitNewServer returns a new Server instance.
func InitNewServer(
	_ config.Server,
) (*Server, error) {
	wire.Build(serviceSet, NewTransport, NoTest)
	return new(Server), nil
}

// InitNewServerWithTransport returns a new Server instance with the given transport.
// All the other components are initialized via go wire according to the configuration.
func InitNewServerWithTransport(
	_ config.Server,
	_ transport.Transport,
	t ...*testing.T,
) (*Server, error) {
	wire.Build(serviceSet)
	return new(Server), nil
}
