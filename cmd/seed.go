package cmd

import (
	"context"
	"time"

	"example.com/backstage/services/salesdesk/config"
	"example.com/backstage/services/salesdesk/internal/auth"
	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	seedDemo  bool
	seedForce bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the initial admin account",
	Long: `Create the admin account (username "admin", initial password "admin")
in the data directory. With --demo it also creates demo accounts and
sample leads. Change the seeded passwords after the first login.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().BoolVar(&seedDemo, "demo", false, "also create demo accounts and sample leads")
	seedCmd.Flags().BoolVar(&seedForce, "force", false, "seed even when accounts already exist")
}

type seedAccount struct {
	username string
	name     string
	role     models.Role
}

func runSeed(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Initialize the store, command log and processor
	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}

	if existing := eng.store.Snapshot().Employees(); len(existing) > 0 && !seedForce {
		return errors.Errorf("data dir %s already has %d account(s), re-run with --force to seed anyway",
			cfg.Data.Dir, len(existing))
	}

	accounts := []seedAccount{
		{username: "admin", name: "Administrator", role: models.RoleAdmin},
	}
	if seedDemo {
		accounts = append(accounts,
			seedAccount{username: "employee", name: "Demo Rep", role: models.RoleEmployee},
			seedAccount{username: "driver", name: "Demo Driver", role: models.RoleDelivery},
		)
	}

	// Accounts are written directly; they are the bootstrap that every
	// later command needs an actor for. The initial password matches the
	// username and should be rotated via reset-password.
	err = eng.store.Update(func(tx *store.Tx) error {
		for _, acc := range accounts {
			if _, ok := tx.EmployeeByUsername(acc.username); ok {
				log.Info().Str("username", acc.username).Msg("Account already exists, skipping")
				continue
			}
			hash, err := auth.HashPassword(acc.username)
			if err != nil {
				return errors.Wrap(err, "hash initial password")
			}
			emp := models.Employee{
				ID:           tx.NextEmployeeID(),
				Username:     acc.username,
				PasswordHash: hash,
				Name:         acc.name,
				Role:         acc.role,
				Active:       true,
				CreatedAt:    time.Now().UTC(),
			}
			tx.PutEmployee(emp)
			log.Info().Str("username", acc.username).Str("role", string(acc.role)).Msg("Account created")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if seedDemo {
		if err := seedDemoLeads(eng); err != nil {
			return err
		}
	}

	log.Info().Str("data_dir", cfg.Data.Dir).Msg("Seed complete")
	return nil
}

// seedDemoLeads imports the sample leads through the command pipeline so
// their audit history looks like any real import, then assigns the first
// one to the demo rep.
func seedDemoLeads(eng *engine) error {
	ctx := context.Background()
	snap := eng.store.Snapshot()
	if len(snap.Leads()) > 0 {
		log.Info().Msg("Leads table not empty, skipping sample leads")
		return nil
	}

	rows := []command.LeadRow{
		{Business: "Depanneur A", Phone: "514-000-0001", Region: "Montreal, QC"},
		{Business: "Cafe B", Phone: "514-000-0002", Region: "Laval, QC"},
		{Business: "Restaurant C", Phone: "514-000-0003", Region: "Longueuil, QC"},
	}
	env, err := command.New(command.KindImportLeads, auth.SystemActor, command.ImportLeadsPayload{
		BatchKey: "seed-demo",
		Rows:     rows,
	}, "seed-demo")
	if err != nil {
		return err
	}
	res, err := eng.proc.Submit(ctx, env)
	if err != nil {
		return errors.Wrap(err, "import sample leads")
	}
	if !res.Applied() {
		return errors.Errorf("sample lead import was rejected: %s", res.Outcome)
	}
	log.Info().Int("rows", len(res.Rows)).Msg("Sample leads imported")

	rep, ok := eng.store.Snapshot().EmployeeByUsername("employee")
	if !ok || len(res.Rows) == 0 || res.Rows[0].Ref == "" {
		return nil
	}
	leadID := res.Rows[0].Ref

	env, err = command.New(command.KindAssignLead, auth.SystemActor, command.AssignLeadPayload{
		LeadID:     leadID,
		EmployeeID: rep.ID,
	}, "")
	if err != nil {
		return err
	}
	res, err = eng.proc.Submit(ctx, env)
	if err != nil {
		return errors.Wrap(err, "assign sample lead")
	}
	if !res.Applied() {
		return errors.Errorf("sample lead assignment was rejected: %s", res.Outcome)
	}
	log.Info().Str("lead_id", leadID).Str("employee_id", rep.ID).Msg("Sample lead assigned to demo rep")
	return nil
}
