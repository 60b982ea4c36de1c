package setup

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/balancecache/config"
)

// GeneratedConfigFile file written by the wizard.
const GeneratedConfigFile = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers collected by the wizard.
type answers struct {
	accountID  string
	network    string
	plan       string
	source     string
	sourceURL  string
	walDir     string
	backups    []string
	redisAddr  string
	backupRoot string
	webAddr    string
}

func defaultAnswers() answers {
	return answers{
		network:    "azore",
		plan:       "basic",
		source:     string(config.SourceREST),
		walDir:     "./wal/balance",
		redisAddr:  "localhost:6379",
		backupRoot: "./wal",
		webAddr:    ":8080",
	}
}

func step(title string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("BALANCECACHE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(title))
}

// RunTUI launches the terminal configuration wizard and returns the path of the written config.
func RunTUI() (string, error) {
	a := defaultAnswers()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("BALANCECACHE CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Balances that survive outages.\n"))

	fmt.Println(stepStyle.Render("STEP 1: ACCOUNT"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Account ID").
				Value(&a.accountID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("account id cannot be empty")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Network").
				Options(
					huh.NewOption("Azore", "azore"),
					huh.NewOption("Ethereum", "ethereum"),
					huh.NewOption("Polygon", "polygon"),
					huh.NewOption("BNB Smart Chain", "bsc"),
					huh.NewOption("Solana", "solana"),
					huh.NewOption("Arbitrum", "arbitrum"),
				).
				Value(&a.network),
			huh.NewSelect[string]().
				Title("Plan").
				Options(
					huh.NewOption("Basic (refresh every 2m)", "basic"),
					huh.NewOption("Pro (refresh every 1m)", "pro"),
					huh.NewOption("Premium (refresh every 15s)", "premium"),
				).
				Value(&a.plan),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 2: LIVE SOURCE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where do live balances come from?").
				Options(
					huh.NewOption("Wallet REST API", string(config.SourceREST)),
					huh.NewOption("Binance", string(config.SourceBinance)),
					huh.NewOption("Bybit", string(config.SourceBybit)),
					huh.NewOption("Hyperliquid", string(config.SourceHyperliquid)),
				).
				Value(&a.source),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if a.source == string(config.SourceREST) {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Wallet API base URL").
					Description("Secret goes to WALLET_API_KEY env var").
					Value(&a.sourceURL).
					Validate(validateURL),
			),
		).Run()
		if err != nil {
			return "", err
		}
	}

	step("STEP 3: STORAGE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Persisted store directory").
				Value(&a.walDir),
			huh.NewMultiSelect[string]().
				Title("Backup generations").
				Description("The first selected one is the current generation").
				Options(
					huh.NewOption("Redis", string(config.BackupRedis)),
					huh.NewOption("LevelDB", string(config.BackupLevelDB)),
					huh.NewOption("JSON files", string(config.BackupFile)),
				).
				Value(&a.backups),
			huh.NewInput().
				Title("Redis address").
				Value(&a.redisAddr),
			huh.NewInput().
				Title("Local backup root directory").
				Value(&a.backupRoot),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 4: HTTP")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&a.webAddr),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Account: %s\nNetwork: %s\nPlan: %s\nSource: %s\nBackups: %s\nHTTP: %s\n",
		a.accountID, a.network, a.plan, a.source, strings.Join(a.backups, ", "), a.webAddr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	data, err := yaml.Marshal(buildConfig(a))
	if err != nil {
		return "", fmt.Errorf("failed to generate yaml: %w", err)
	}

	if err := os.WriteFile(GeneratedConfigFile, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting...", GeneratedConfigFile)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return GeneratedConfigFile, nil
}

func buildConfig(a answers) config.ConfigTmp {
	var c config.ConfigTmp
	c.Account.ID = strings.TrimSpace(a.accountID)
	c.Account.Network = a.network
	c.Account.PlanTier = a.plan
	c.Source.Kind = a.source
	c.Source.URL = a.sourceURL
	c.Persisted.Dir = a.walDir
	c.WebAddr = a.webAddr

	for _, kind := range a.backups {
		b := config.BackupTmp{Kind: kind}
		switch config.BackupKind(kind) {
		case config.BackupRedis:
			b.Addr = a.redisAddr
		case config.BackupLevelDB:
			b.Dir = strings.TrimRight(a.backupRoot, "/") + "/backup-leveldb"
		case config.BackupFile:
			b.Dir = strings.TrimRight(a.backupRoot, "/") + "/backup-files"
		}
		c.Backups = append(c.Backups, b)
	}

	return c
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL (e.g. https://wallet.example.com/api)")
	}
	return nil
}
