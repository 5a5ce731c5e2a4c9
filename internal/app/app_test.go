package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeService struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start() error {
	*f.events = append(*f.events, "start "+f.name)
	return f.startErr
}

func (f *fakeService) Stop() {
	*f.events = append(*f.events, "stop "+f.name)
}

func TestRunStopsInReverseOrder(t *testing.T) {
	var events []string
	app := &App{services: []service{
		&fakeService{name: "media", events: &events},
		&fakeService{name: "api", events: &events},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := app.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	expected := []string{"start media", "start api", "stop api", "stop media"}
	if fmt.Sprint(events) != fmt.Sprint(expected) {
		t.Errorf("Expected %v, got %v", expected, events)
	}
}

func TestRunStartFailure(t *testing.T) {
	var events []string
	boom := errors.New("boom")
	app := &App{services: []service{
		&fakeService{name: "media", events: &events},
		&fakeService{name: "api", startErr: boom, events: &events},
	}}

	err := app.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Expected start error, got %v", err)
	}
	expected := []string{"start media", "start api", "stop media"}
	if fmt.Sprint(events) != fmt.Sprint(expected) {
		t.Errorf("Expected %v, got %v", expected, events)
	}
}

func TestNewApp(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	catalogPath := writeFile(t, dir, "feedcast.conf", fmt.Sprintf(`
HTTPPort 8123
MaxClients 20

<Feed cam.ffm>
File %s/cam.ffm
FileMaxSize 64K
</Feed>

<Stream live.ffm>
Feed cam.ffm
Format ffm
NoAudio
</Stream>
`, dir))
	t.Setenv("FEEDCAST_API_PORT", "0")

	app, err := NewApp(Options{CatalogPath: catalogPath, NoLaunch: true})
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if app.config.HTTP.Port != 8123 || app.config.HTTP.MaxClients != 20 {
		t.Errorf("Expected catalog globals applied, got %+v", app.config.HTTP)
	}
	if app.apiServer != nil {
		t.Errorf("Expected api disabled")
	}
	if len(app.services) != 1 || app.services[0].Name() != "media" {
		t.Errorf("Expected only the media service, got %d services", len(app.services))
	}
	if _, err := app.catalog.Resolve("live.ffm"); err != nil {
		t.Errorf("Expected live.ffm in catalog: %v", err)
	}
}

func TestNewAppMissingCatalog(t *testing.T) {
	chdir(t, t.TempDir())
	if _, err := NewApp(Options{CatalogPath: "missing.conf"}); err == nil {
		t.Errorf("Expected an error for a missing catalog")
	}
}
