// Command mtaqueuectl inspects and manipulates mtaserv's on-disk queue
// directly, without going through a running server: list per-queue
// depth and age, dump one message as JSON or raw .eml, move it between
// queues, remove it, or requeue a deferred message for immediate retry.
//
// Grounded on foxcpp-maddy's cmd/maddyctl/main.go: a urfave/cli/v2 app
// whose subcommands operate on the same on-disk state the server owns,
// meant to be run while the server may also be running.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/queue"
)

func main() {
	app := &cli.App{
		Name:  "mtaqueuectl",
		Usage: "inspect and manage the mtaserv on-disk queue",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    "queue-root",
				Usage:   "root of the queue directory tree",
				EnvVars: []string{"MTASERV_QUEUE_ROOT"},
				Value:   "/var/spool/mtaserv",
			},
		},
		Commands: []*cli.Command{
			showCommand(),
			msgCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func manager(c *cli.Context) *queue.Manager {
	return queue.New(c.Path("queue-root"))
}

var allQueues = []queue.Name{queue.Working, queue.Deliver, queue.Deferred, queue.Dead}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "list per-queue message counts and age buckets",
		ArgsUsage: "[queue...]",
		Action: func(c *cli.Context) error {
			qm := manager(c)
			queues := allQueues
			if c.NArg() > 0 {
				queues = nil
				for _, a := range c.Args().Slice() {
					queues = append(queues, queue.Name(a))
				}
			}
			for _, q := range queues {
				ids, err := qm.List(q)
				if err != nil {
					return fmt.Errorf("list %s: %w", q, err)
				}
				buckets := ageBuckets(qm, q, ids)
				fmt.Printf("%-10s %5d messages  <1m=%d <10m=%d <1h=%d <1d=%d >=1d=%d\n",
					q, len(ids), buckets[0], buckets[1], buckets[2], buckets[3], buckets[4])
			}
			return nil
		},
	}
}

// ageBuckets reads each message's metadata to bucket it by its age since
// creation (Meta.CreatedAt), not by how long it has sat in q. Unreadable entries (a message mid-write, a corrupt file) are
// silently skipped rather than failing the whole report.
func ageBuckets(qm *queue.Manager, q queue.Name, ids []string) [5]int {
	var buckets [5]int
	now := time.Now()
	for _, id := range ids {
		data, err := qm.Read(q, id)
		if err != nil {
			continue
		}
		mc, err := mailctx.Decode(data)
		if err != nil {
			continue
		}
		age := now.Sub(mc.Meta.CreatedAt)
		switch {
		case age < time.Minute:
			buckets[0]++
		case age < 10*time.Minute:
			buckets[1]++
		case age < time.Hour:
			buckets[2]++
		case age < 24*time.Hour:
			buckets[3]++
		default:
			buckets[4]++
		}
	}
	return buckets
}

func msgCommand() *cli.Command {
	return &cli.Command{
		Name:      "msg",
		Usage:     "operate on one message by id",
		ArgsUsage: "<id>",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "print a message as json or raw eml",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: "json", Usage: "json or eml"},
				},
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("msg show: message id required")
					}
					qm := manager(c)
					q, data, err := findMessage(qm, id)
					if err != nil {
						return err
					}
					mc, err := mailctx.Decode(data)
					if err != nil {
						return fmt.Errorf("decode %s: %w", id, err)
					}
					switch c.String("format") {
					case "eml":
						os.Stdout.Write(mc.Body.RawBytes())
					default:
						fmt.Printf("queue:     %s\n", q)
						fmt.Printf("id:        %s\n", mc.Meta.ID)
						fmt.Printf("created:   %s\n", mc.Meta.CreatedAt.Format(time.RFC3339))
						fmt.Printf("mail_from: %s\n", mc.Envelope.MailFrom)
						for _, r := range mc.Envelope.Rcpts {
							fmt.Printf("rcpt:      %s  method=%s  status=%s\n", r.Addr.String(), r.Method.String(), r.Status.String())
						}
						enc, _ := json.MarshalIndent(mc.Meta, "", "  ")
						fmt.Printf("meta:      %s\n", enc)
					}
					return nil
				},
			},
			{
				Name:      "move",
				Usage:     "move a message into another queue",
				ArgsUsage: "<id> <queue>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return fmt.Errorf("msg move: id and destination queue required")
					}
					id := c.Args().Get(0)
					to := queue.Name(c.Args().Get(1))
					qm := manager(c)
					from, _, err := findMessage(qm, id)
					if err != nil {
						return err
					}
					return qm.Move(id, from, to)
				},
			},
			{
				Name:      "remove",
				Usage:     "delete a message from whichever queue holds it",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("msg remove: message id required")
					}
					qm := manager(c)
					q, _, err := findMessage(qm, id)
					if err != nil {
						return err
					}
					return qm.Remove(q, id)
				},
			},
			{
				Name:      "rerun",
				Usage:     "move a deferred message back to deliver for immediate retry",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("msg rerun: message id required")
					}
					qm := manager(c)
					if !qm.Exists(queue.Deferred, id) {
						return fmt.Errorf("msg rerun: %s is not in deferred", id)
					}
					return qm.Move(id, queue.Deferred, queue.Deliver)
				},
			},
		},
	}
}

// findMessage locates id across every queue, since the caller rarely
// knows which stage currently holds it.
func findMessage(qm *queue.Manager, id string) (queue.Name, []byte, error) {
	queues := append([]queue.Name(nil), allQueues...)
	sort.Slice(queues, func(i, j int) bool { return queues[i] < queues[j] })
	for _, q := range queues {
		if qm.Exists(q, id) {
			data, err := qm.Read(q, id)
			if err != nil {
				return q, nil, fmt.Errorf("read %s from %s: %w", id, q, err)
			}
			return q, data, nil
		}
	}
	return "", nil, fmt.Errorf("message %s not found in any queue", id)
}
