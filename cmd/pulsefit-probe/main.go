package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pulsefit/pulsefit-client-go/internal/bootstrap"
	"github.com/pulsefit/pulsefit-client-go/pkg/contextkeys"
)

func main() {
	// Root context for the probe process; the bootstrap layer derives
	// everything else from it.
	ctx := context.Background()
	ctx = context.WithValue(ctx, contextkeys.RequestIDKey, "probe-main")

	// Initialize the client using the Wire-generated injector.
	app, cleanup, err := bootstrap.InitializeApp(ctx)
	if err != nil {
		// A very basic log if bootstrap fails, as the main logger isn't available.
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	// Run blocks until a shutdown signal or context cancellation.
	if err := app.Run(ctx); err != nil {
		fmt.Printf("Application run failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application exited gracefully.")
}
