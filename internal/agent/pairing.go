package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dmitrijs2005/photosync/internal/agent/discovery"
	"github.com/dmitrijs2005/photosync/internal/agent/metadata"
	"github.com/dmitrijs2005/photosync/internal/agent/transfer"
)

// readAPIKey is a test seam for term.ReadPassword.
var readAPIKey = term.ReadPassword

// Pair runs the interactive pairing flow: find a server on the local
// network (or use the manually configured address), ask the user for its
// API key, verify the pair against the health endpoint and persist the
// pairing record. Re-pairing overwrites the previous record.
func (app *App) Pair(ctx context.Context, in io.Reader, out io.Writer) error {
	info, err := app.resolveForPairing(ctx, out)
	if err != nil {
		return err
	}

	name := info.Name
	if name == "" {
		name = info.Addr()
	}
	fmt.Fprintf(out, "Found server %q at %s\n", name, info.Addr())

	key, err := promptAPIKey(in, out)
	if err != nil {
		return err
	}
	if key == "" {
		return errors.New("empty API key")
	}

	client := transfer.NewClient(info, key, app.cfg.DeviceName, app.cfg.HTTPTimeout, app.logger)
	if !client.HealthCheck(ctx) {
		return fmt.Errorf("server %s did not answer the health probe", info.Addr())
	}

	if err := app.repos.Metadata.Set(ctx, metadata.KeyServerID, []byte(info.ID)); err != nil {
		return fmt.Errorf("failed to store server identity: %w", err)
	}
	if err := app.repos.Metadata.Set(ctx, metadata.KeyAPIKey, []byte(key)); err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}

	app.cfg.ServerID = info.ID
	app.cfg.APIKey = key

	fmt.Fprintf(out, "Paired with %q. The address is not stored; it is rediscovered on every run.\n", name)
	return nil
}

func (app *App) resolveForPairing(ctx context.Context, out io.Writer) (*discovery.ServerInfo, error) {
	if app.cfg.ManualServerHost != "" {
		port := app.cfg.ManualServerPort
		if port == 0 {
			port = 9121
		}
		return app.discoverer.Verify(app.cfg.ManualServerHost, port), nil
	}

	fmt.Fprintln(out, "Searching for a backup server on the local network...")
	// pairing accepts any server; identity pinning starts after this record
	// is written
	info, err := app.discoverer.Discover(ctx, "")
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.New("no backup server found on the local network")
	}
	return info, nil
}

func promptAPIKey(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter the server API key: ")

	// no-echo read when stdin is a terminal, plain line read otherwise so
	// the flow stays scriptable
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		key, err := readAPIKey(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(key)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
