package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/and161185/keycache/internal/model"
	"github.com/and161185/keycache/internal/vault"
)

type action func(c *cli.Context, eng *vault.Engine, p *prompter) error

// withEngine opens the vault for the duration of one command.
func withEngine(fn action) cli.ActionFunc {
	return func(c *cli.Context) error {
		eng, done, err := openEngine(c)
		if err != nil {
			return err
		}
		defer done()
		return fn(c, eng, newPrompter(c.App.Reader, c.App.ErrWriter))
	}
}

// unlock asks for the passphrase and logs in. With requireSession a failed
// remote login is an error; otherwise the command goes on with the vault
// unlocked locally.
func unlock(c *cli.Context, eng *vault.Engine, p *prompter, requireSession bool) error {
	pass, err := p.secret("Passphrase")
	if err != nil {
		return err
	}
	err = eng.Login(c.Context, pass)
	if err == nil {
		return nil
	}
	if !requireSession && eng.State() == vault.Unlocked {
		fmt.Fprintf(c.App.ErrWriter, "warning: working offline: %v\n", err)
		return nil
	}
	return err
}

func cmdRegister() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create a new vault (and a sync account when sync is on)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
		},
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			pass, err := p.newSecret("Passphrase")
			if err != nil {
				return err
			}
			if err := eng.Register(c.Context, c.String("username"), pass); err != nil {
				return err
			}
			u := eng.User()
			if u.UserID != "" {
				fmt.Fprintf(c.App.Writer, "registered %s (user id %s)\n", u.Username, u.UserID)
			} else {
				fmt.Fprintf(c.App.Writer, "registered %s (local only)\n", u.Username)
			}
			return nil
		}),
	}
}

func cmdLogin() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "check the passphrase and, when sync is on, the sync account",
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			if err := unlock(c, eng, p, eng.Settings().UseSyncServer); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, eng.State())
			return nil
		}),
	}
}

func cmdLogout() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "end the session on the sync server",
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			if err := unlock(c, eng, p, eng.Settings().UseSyncServer); err != nil {
				return err
			}
			eng.Logout(c.Context)
			fmt.Fprintln(c.App.Writer, eng.State())
			return nil
		}),
	}
}

func cardFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "type", Usage: "web or note"},
		&cli.StringFlag{Name: "name"},
		&cli.StringFlag{Name: "url"},
		&cli.StringFlag{Name: "username"},
		&cli.StringFlag{Name: "password", Usage: "prompted for when omitted on web cards"},
		&cli.StringFlag{Name: "note"},
	}
}

func fieldsFrom(c *cli.Context) cardFields {
	get := func(name string) *string {
		if !c.IsSet(name) {
			return nil
		}
		v := c.String(name)
		return &v
	}
	return cardFields{
		Type:     get("type"),
		Name:     get("name"),
		URL:      get("url"),
		Username: get("username"),
		Password: get("password"),
		Note:     get("note"),
	}
}

func cmdAdd() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "add a card",
		Flags: cardFlags(),
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			if err := unlock(c, eng, p, false); err != nil {
				return err
			}
			clear := applyFields(model.CardClear{}, fieldsFrom(c))
			if err := validateCard(clear); err != nil {
				return err
			}
			if clear.Type == typeWeb && !c.IsSet("password") {
				pw, err := p.secret("Card password")
				if err != nil {
					return err
				}
				clear.Password = pw
			}
			card, err := eng.AddCard(c.Context, clear)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, card.ID)
			return nil
		}),
	}
}

func cmdEdit() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "change fields of a card",
		ArgsUsage: "<card-id>",
		Flags:     cardFlags(),
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			id := c.Args().First()
			if id == "" {
				return errors.New("card id required")
			}
			if err := unlock(c, eng, p, false); err != nil {
				return err
			}
			card, err := eng.Card(id)
			if err != nil {
				return err
			}
			if card.Clear == nil {
				return fmt.Errorf("card %s could not be decrypted", id)
			}
			clear := applyFields(*card.Clear, fieldsFrom(c))
			if err := validateCard(clear); err != nil {
				return err
			}
			updated, err := eng.UpdateCard(c.Context, id, clear)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, updated.Version)
			return nil
		}),
	}
}

func cmdRemove() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "delete a card",
		ArgsUsage: "<card-id>",
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			id := c.Args().First()
			if id == "" {
				return errors.New("card id required")
			}
			// The remote delete needs a session.
			if eng.Settings().UseSyncServer {
				if err := unlock(c, eng, p, false); err != nil {
					return err
				}
			}
			return eng.RemoveCard(c.Context, id)
		}),
	}
}

func cmdList() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list cards",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "show", Usage: "unlock and show names"},
		},
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			if c.Bool("show") {
				if err := unlock(c, eng, p, false); err != nil {
					return err
				}
			}
			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			for _, card := range eng.Cards() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", card.ID, card.Version, label(card))
			}
			return tw.Flush()
		}),
	}
}

func cmdShow() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "print one card including its password",
		ArgsUsage: "<card-id>",
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			id := c.Args().First()
			if id == "" {
				return errors.New("card id required")
			}
			if err := unlock(c, eng, p, false); err != nil {
				return err
			}
			card, err := eng.Card(id)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, cardView{ID: card.ID, Version: card.Version, Card: card.Clear})
		}),
	}
}

func cmdPull() *cli.Command {
	return &cli.Command{
		Name:  "pull",
		Usage: "fetch cards from the sync server",
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			if err := unlock(c, eng, p, true); err != nil {
				return err
			}
			res, err := eng.Pull(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "added %d, updated %d, removed %d\n", res.Added, res.Updated, res.Removed)
			return nil
		}),
	}
}

func cmdPush() *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "create all local cards on the sync server",
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			if err := unlock(c, eng, p, true); err != nil {
				return err
			}
			res, err := eng.Push(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "created %d, updated %d, skipped %d\n", res.Created, res.Updated, res.Failed)
			return nil
		}),
	}
}

func cmdPasswd() *cli.Command {
	return &cli.Command{
		Name:  "passwd",
		Usage: "change the vault passphrase",
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			oldPass, err := p.secret("Passphrase")
			if err != nil {
				return err
			}
			if err := eng.Login(c.Context, oldPass); err != nil && eng.State() != vault.Unlocked {
				return err
			}
			newPass, err := p.newSecret("New passphrase")
			if err != nil {
				return err
			}
			if err := eng.ChangePassphrase(c.Context, oldPass, newPass); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "passphrase changed")
			return nil
		}),
	}
}

func cmdSettings() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "show or change sync settings",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "sync", Usage: "enable sync (--sync=false disables)"},
			&cli.StringFlag{Name: "host", Usage: "sync server URL"},
		},
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, _ *prompter) error {
			if c.IsSet("host") {
				if err := eng.SetSyncHost(c.String("host")); err != nil {
					return err
				}
			}
			if c.IsSet("sync") {
				if err := eng.SetSyncServer(c.Bool("sync")); err != nil {
					return err
				}
			}
			return printJSON(c.App.Writer, eng.Settings())
		}),
	}
}

var outFlag = &cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to `FILE` instead of stdout"}

// writeOut sends data to --out (mode 0600) or to stdout.
func writeOut(c *cli.Context, data []byte) error {
	path := c.String("out")
	if path == "" {
		_, err := c.App.Writer.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(c.App.ErrWriter, "wrote %s\n", path)
	return nil
}

func cmdExport() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write all cards in plaintext JSON",
		Flags: []cli.Flag{outFlag},
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, p *prompter) error {
			if err := unlock(c, eng, p, false); err != nil {
				return err
			}
			cards, err := eng.ExportCards()
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(cards, "", "    ")
			if err != nil {
				return err
			}
			return writeOut(c, append(b, '\n'))
		}),
	}
}

func cmdBackup() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "write a copy of the encrypted profile",
		Flags: []cli.Flag{outFlag},
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, _ *prompter) error {
			b, err := eng.Backup()
			if err != nil {
				return err
			}
			return writeOut(c, b)
		}),
	}
}

func cmdWipe() *cli.Command {
	return &cli.Command{
		Name:  "wipe",
		Usage: "delete the local profile",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "confirm"},
		},
		Action: withEngine(func(c *cli.Context, eng *vault.Engine, _ *prompter) error {
			if !c.Bool("yes") {
				return errors.New("refusing to wipe without --yes")
			}
			if err := eng.Wipe(); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "profile removed")
			return nil
		}),
	}
}
