package repository_test

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"

	"github.com/larder/larder-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	flag.Parse()
	ctx := context.Background()

	if !testing.Short() {
		var err error
		suite, err = testutil.NewIntegrationSuite(ctx)
		if err != nil {
			log.Fatalf("failed to create integration suite: %v", err)
		}
	}

	code := m.Run()
	if suite != nil {
		suite.Cleanup(ctx)
	}
	os.Exit(code)
}
