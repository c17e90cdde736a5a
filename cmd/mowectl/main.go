// Command mowectl inspects access tables and manages background jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/platform/cache"
	"github.com/mowesport/mowe/internal/roles"
)

const usage = `usage:
  mowectl access -role <role> [-status <status>] [-tables <path>]
  mowectl jobs trigger <job>
  mowectl jobs stats
  mowectl jobs archived [-n 10]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "access":
		err = runAccess(os.Args[2:])
	case "jobs":
		err = runJobs(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mowectl:", err)
		os.Exit(1)
	}
}

func runAccess(args []string) error {
	fs := flag.NewFlagSet("access", flag.ExitOnError)
	rawRole := fs.String("role", "", "role to explain")
	status := fs.String("status", string(roles.StatusActive), "account status")
	path := fs.String("tables", os.Getenv("ACCESS_TABLE_PATH"), "access table YAML, embedded defaults when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	role, err := roles.Parse(*rawRole)
	if err != nil {
		return err
	}
	tables, err := access.Load(*path)
	if err != nil {
		return err
	}
	return explainAccess(os.Stdout, tables, role, roles.Status(*status))
}

func runJobs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing jobs subcommand\n%s", usage)
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	cli := NewJobsCLI(cache.Options{Addr: addr}.AsynqOpt())
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("missing job name")
		}
		info, err := cli.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := cli.InspectQueue()
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "archived":
		fs := flag.NewFlagSet("archived", flag.ExitOnError)
		n := fs.Int("n", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		tasks, err := cli.ListArchived(*n)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s %s retried=%d last_error=%q\n", t.ID, t.Type, t.Retried, t.LastErr)
		}
	default:
		return fmt.Errorf("unknown jobs subcommand %q", args[0])
	}
	return nil
}
