package plugins

import (
	"context"
	"fmt"

	"github.com/openfroyo/activator/pkg/engine"
)

// Example_dispatch shows a route delete that never reaches the provider
// because the route was never activated.
func Example_dispatch() {
	repo := newMemRepo(&engine.Route{
		ResourceMeta: engine.ResourceMeta{ID: "r1", Kind: engine.KindRoute},
		Host:         "shop",
		Domain:       "apps.example.com",
	})
	tracker := engine.NewTracker(engine.DefaultTrackerConfig())
	defer tracker.Close(context.Background())

	routes, err := NewRouteHandler(Common{Repository: repo, Tracker: tracker}, &mockRouteService{})
	if err != nil {
		fmt.Println(err)
		return
	}
	d, err := NewDispatcher(AllSteps(routes)...)
	if err != nil {
		fmt.Println(err)
		return
	}

	status := d.Dispatch(context.Background(), engine.KindRoute, engine.StepDelete, "r1", engine.ActivationContext{})
	fmt.Println(status.State)
	fmt.Println(status.Title)
	// Output:
	// FINISHED_OK
	// Route shop.apps.example.com has been deleted.
}
