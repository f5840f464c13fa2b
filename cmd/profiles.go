package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"sshvpn/internal/profile"
	"sshvpn/internal/proxy"
)

func runProfiles(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return runProfilesList(ctx, nil)
	}
	switch args[0] {
	case "list", "ls":
		return runProfilesList(ctx, args[1:])
	case "show":
		return runProfilesShow(ctx, args[1:])
	case "save", "add":
		return runProfilesSave(ctx, args[1:])
	case "delete", "rm":
		return runProfilesDelete(ctx, args[1:])
	case "import":
		return runProfilesImport(ctx, args[1:])
	case "-h", "--help", "help":
		fmt.Fprint(stderr, `Usage:
  sshvpn profiles list
  sshvpn profiles show <name>
  sshvpn profiles save -n <name> [options] [user@]host[:port]
  sshvpn profiles delete <name>
  sshvpn profiles import [--overwrite] <saved_vpns.json>
`)
		return nil
	}
	return fmt.Errorf("unknown profiles command %q (want list, show, save, delete or import)", args[0])
}

func runProfilesList(_ context.Context, args []string) error {
	cfg := loadConfig()
	var help bool
	fs := newFlagSet("profiles list", cfg, &help)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		printCommandUsage(fs, "sshvpn profiles list")
		return nil
	}

	all, err := profile.NewYAMLStore(cfg.StorePath).LoadAll()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintf(stderr, "No saved profiles in %s\n", cfg.StorePath)
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESTINATION\tPORT\tSOCKS\tMODE")
	for _, p := range all {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", p.Name, p.Destination(), p.Port, p.SocksPort, p.Mode)
	}
	return tw.Flush()
}

func runProfilesShow(_ context.Context, args []string) error {
	cfg := loadConfig()
	var help bool
	fs := newFlagSet("profiles show", cfg, &help)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		printCommandUsage(fs, "sshvpn profiles show <name>")
		return nil
	}
	if fs.NArg() != 1 {
		return errors.New("profiles show needs exactly one profile name")
	}

	all, err := profile.NewYAMLStore(cfg.StorePath).LoadAll()
	if err != nil {
		return err
	}
	p, ok := profile.Find(all, fs.Arg(0))
	if !ok {
		return fmt.Errorf("no saved profile named %q", fs.Arg(0))
	}

	password := "(none)"
	if p.Password != "" {
		password = "********"
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", p.Name)
	fmt.Fprintf(tw, "Destination:\t%s:%d\n", p.Destination(), p.Port)
	fmt.Fprintf(tw, "Password:\t%s\n", password)
	fmt.Fprintf(tw, "Mode:\t%s\n", p.Mode)
	if p.Mode == profile.ModeTunnelSocks {
		fmt.Fprintf(tw, "SOCKS:\t%s\n", proxy.Endpoint(p.SocksPort))
	}
	fmt.Fprintf(tw, "Options:\t%s\n", profile.FormatOptions(p.ExtraOptions))
	return tw.Flush()
}

func runProfilesSave(_ context.Context, args []string) error {
	cfg := loadConfig()
	var help bool
	fs := newFlagSet("profiles save", cfg, &help)
	addProfileFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		printCommandUsage(fs, "sshvpn profiles save -n <name> [options] [user@]host[:port]")
		return nil
	}
	if cfg.ProfileName == "" {
		return errors.New("profiles save needs a profile name (-n)")
	}
	if err := applyDestination(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store := profile.NewYAMLStore(cfg.StorePath)
	p, err := resolveProfile(cfg, store, true)
	if err != nil {
		return err
	}
	if err := checkDestination(p); err != nil {
		return err
	}
	if err := fillPassword(&p, cfg.AskPassword); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return saveProfile(store, p)
}

func runProfilesDelete(_ context.Context, args []string) error {
	cfg := loadConfig()
	var help bool
	fs := newFlagSet("profiles delete", cfg, &help)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		printCommandUsage(fs, "sshvpn profiles delete <name>")
		return nil
	}
	if fs.NArg() != 1 {
		return errors.New("profiles delete needs exactly one profile name")
	}

	store := profile.NewYAMLStore(cfg.StorePath)
	all, err := store.LoadAll()
	if err != nil {
		return err
	}
	rest, ok := profile.Remove(all, fs.Arg(0))
	if !ok {
		return fmt.Errorf("no saved profile named %q", fs.Arg(0))
	}
	if err := store.SaveAll(rest); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "Deleted profile %q\n", fs.Arg(0))
	return nil
}

// runProfilesImport merges a saved_vpns.json from the desktop app into
// the store.  Entries that fail to convert are reported after the valid
// ones have been saved.
func runProfilesImport(_ context.Context, args []string) error {
	cfg := loadConfig()
	var help, overwrite bool
	fs := newFlagSet("profiles import", cfg, &help)
	fs.BoolVar(&overwrite, "overwrite", false, "Replace saved profiles with the same name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		printCommandUsage(fs, "sshvpn profiles import [--overwrite] <saved_vpns.json>")
		return nil
	}
	if fs.NArg() != 1 {
		return errors.New("profiles import needs the path of a saved_vpns.json file")
	}

	imported, convErr := profile.ImportLegacy(fs.Arg(0))
	if len(imported) == 0 && convErr != nil {
		return convErr
	}

	store := profile.NewYAMLStore(cfg.StorePath)
	all, err := store.LoadAll()
	if err != nil {
		return err
	}
	added, skipped := 0, 0
	for _, p := range imported {
		if _, exists := profile.Find(all, p.Name); exists && !overwrite {
			fmt.Fprintf(stderr, "Skipping %q: already saved (use --overwrite)\n", p.Name)
			skipped++
			continue
		}
		all = profile.Upsert(all, p)
		added++
	}
	if added > 0 {
		if err := store.SaveAll(all); err != nil {
			return err
		}
	}
	fmt.Fprintf(stderr, "Imported %d profile(s), skipped %d\n", added, skipped)
	return convErr
}

// ── pac ──────────────────────────────────────────────────────────────

func runPAC(_ context.Context, args []string) error {
	cfg := loadConfig()
	var help bool
	var dir string
	fs := newFlagSet("pac", cfg, &help)
	fs.StringVarP(&cfg.ProfileName, "name", "n", cfg.ProfileName, "Use the SOCKS port of this saved profile")
	fs.IntVarP(&cfg.SocksPort, "socks-port", "D", cfg.SocksPort, "Local SOCKS port (default 1080)")
	fs.StringVar(&dir, "dir", "", "Directory to write into (default: home directory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if help {
		printCommandUsage(fs, "sshvpn pac [-n name | -D port] [--dir dir]")
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := resolveProfile(cfg, profile.NewYAMLStore(cfg.StorePath), false)
	if err != nil {
		return err
	}

	path, err := proxy.WritePAC(dir, p.SocksPort)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, path)
	return nil
}
