package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dyluth/augur/internal/node"
	"github.com/dyluth/augur/internal/printer"
	"github.com/dyluth/augur/internal/resolver"
	"github.com/dyluth/augur/pkg/gameplay"
)

const consoleHelp = `Commands:
  activate <class>                   Activate an activity for this client's entity
  cancel <id>                        Cancel an activity (id or unique id prefix)
  end <id>                           End an activity (id or unique id prefix)
  send <event-tag> <policy> [domain] Send an event with a replication policy
  list                               List local and authoritative activities
  stats                              Show reconciliation counters
  help                               Show this help
`

// console executes operator commands against a client node.
// exec must run on the node's goroutine.
type console struct {
	node *node.Node
	self gameplay.EntityRef
	out  *printer.Printer
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch cmd, args := fields[0], fields[1:]; cmd {
	case "activate":
		if len(args) != 1 {
			return fmt.Errorf("usage: activate <class>")
		}
		return c.activate(ctx, gameplay.Tag(args[0]))
	case "cancel", "end":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <id>", cmd)
		}
		return c.finish(ctx, cmd, args[0])
	case "send":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("usage: send <event-tag> <policy> [domain]")
		}
		var domain gameplay.Tag
		if len(args) == 3 {
			domain = gameplay.Tag(args[2])
		}
		return c.send(ctx, gameplay.Tag(args[0]), gameplay.ReplicationPolicy(args[1]), domain)
	case "list":
		c.list()
		return nil
	case "stats":
		s := c.node.Reconciler.Stats()
		c.out.Info("fast_forwarded=%d resolved=%d adopted=%d missed=%d followed=%d restored=%d\n",
			s.FastForwarded, s.Resolved, s.Adopted, s.Missed, s.Followed, s.Restored)
		return nil
	case "help":
		c.out.Info(consoleHelp)
		return nil
	default:
		return fmt.Errorf("unknown command: %s (try 'help')", cmd)
	}
}

func (c *console) activate(ctx context.Context, class gameplay.Tag) error {
	if err := class.Validate(); err != nil {
		return fmt.Errorf("invalid class: %w", err)
	}
	id, ok := c.node.Runtime.Activate(ctx, class, gameplay.Payload{}, nil, &c.self)
	if !ok {
		return fmt.Errorf("activation of %s was refused", class)
	}
	c.out.Success("Activated %s (%s)\n", class, id)
	return nil
}

func (c *console) finish(ctx context.Context, verb, ref string) error {
	id, err := c.resolveID(ref)
	if err != nil {
		return err
	}

	var ok bool
	if verb == "cancel" {
		ok = c.node.Runtime.Cancel(ctx, id, gameplay.Payload{})
	} else {
		ok = c.node.Runtime.End(ctx, id, gameplay.Payload{})
	}
	if !ok {
		return fmt.Errorf("activity %s is not running here", id)
	}
	c.out.Success("%s %s\n", strings.ToUpper(verb[:1])+verb[1:], id)
	return nil
}

func (c *console) send(ctx context.Context, eventTag gameplay.Tag, policy gameplay.ReplicationPolicy, domain gameplay.Tag) error {
	if err := eventTag.Validate(); err != nil {
		return fmt.Errorf("invalid event tag: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	if domain != "" {
		if err := domain.Validate(); err != nil {
			return fmt.Errorf("invalid domain tag: %w", err)
		}
	}

	id := c.node.Dispatcher.Send(ctx, eventTag, domain, gameplay.Payload{}, &c.self, policy)
	if id == uuid.Nil {
		return fmt.Errorf("policy %s cannot be sent from a client", policy)
	}
	c.out.Success("Sent %s (%s)\n", eventTag, id)
	return nil
}

func (c *console) list() {
	store := c.node.Store
	rows := append(c.rows("local", store.Local().Items()), c.rows("auth", store.Authoritative().Items())...)
	if len(rows) == 0 {
		c.out.Info("No activities\n")
		return
	}
	for _, row := range rows {
		c.out.Info("%s\n", row)
	}
}

func (c *console) rows(table string, items []*gameplay.ActivityState) []string {
	rows := make([]string, 0, len(items))
	for _, s := range items {
		row := fmt.Sprintf("%-5s %s %-24s %-18s", table, s.ID.String()[:8], s.Class, s.Status)
		if latest, ok := s.LatestSnapshot(); ok {
			row += fmt.Sprintf(" %s#%d", latest.StateTag, latest.SequenceNumber)
			if latest.Resolved {
				row += " resolved"
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// resolveID accepts a full id or a short prefix unique across both tables.
func (c *console) resolveID(ref string) (uuid.UUID, error) {
	var known []uuid.UUID
	for _, s := range c.node.Store.Local().Items() {
		known = append(known, s.ID)
	}
	for _, s := range c.node.Store.Authoritative().Items() {
		known = append(known, s.ID)
	}

	id, err := resolver.ResolveActivityID(ref, known)
	var amb *resolver.AmbiguousError
	if errors.As(err, &amb) {
		return uuid.Nil, errors.New(resolver.FormatAmbiguousError(amb))
	}
	return id, err
}
