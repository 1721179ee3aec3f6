package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/Lllllllleong/flyerextract/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	flyerFunction *services.FlyerFunction
	once          sync.Once
	initErr       error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ExtractFlyer", extractFlyer)
}

// main is required by the Go Functions Framework.
func main() {}

// extractFlyer is the Cloud Function entry point for GCS object-finalized events.
func extractFlyer(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		flyerFunction, initErr = services.NewFlyerFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var event models.StorageObjectEvent
	if err := json.Unmarshal(e.Data(), &event); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context inside Process.
	return flyerFunction.Process(ctx, event)
}
