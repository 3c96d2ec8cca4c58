package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// MDNSBrowser implements Browser over multicast DNS.
type MDNSBrowser struct{}

func NewMDNSBrowser() *MDNSBrowser {
	return &MDNSBrowser{}
}

// Browse runs an mDNS query until the context deadline and forwards every
// resolved advertisement as a Candidate.
func (b *MDNSBrowser) Browse(ctx context.Context, service string, entries chan<- Candidate) error {
	timeout := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return ctx.Err()
	}

	raw := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range raw {
			cand := Candidate{
				Host:  entry.Host,
				Port:  entry.Port,
				Attrs: parseTXT(entry.InfoFields),
			}
			if entry.AddrV4 != nil {
				cand.Host = entry.AddrV4.String()
			}
			select {
			case entries <- cand:
			case <-ctx.Done():
				return
			}
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service:     service,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     raw,
		DisableIPv6: true,
	})
	close(raw)
	<-done
	return err
}

// parseTXT turns "key=value" TXT records into a map. Records without '='
// are kept with an empty value.
func parseTXT(fields []string) map[string]string {
	attrs := make(map[string]string, len(fields))
	for _, f := range fields {
		if k, v, ok := strings.Cut(f, "="); ok {
			attrs[k] = v
		} else if f != "" {
			attrs[f] = ""
		}
	}
	return attrs
}
