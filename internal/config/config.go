// Package config resolves template_sync options from defaults, the repository
// config file and the command line.
package config

// Well-known file names in the repository root
const (
	DefaultConfigFile     = ".tt-upgrade.config.json"
	DefaultLastCommitFile = ".turborepo-template.lst"
	DefaultBackupDir      = ".merge-backups"
	PatchFile             = ".template.patch"
	ErrorLogFile          = ".error.log"
)

// Defaults for the template remote
const (
	DefaultTemplateURL    = "https://github.com/react18-tools/turborepo-template"
	DefaultRemoteName     = "template"
	DefaultBranch         = "main"
	DefaultMaxRetries     = 3
	DefaultInstallCommand = "pnpm i"
)

// Options are the fully resolved settings of one sync run
type Options struct {
	Root           string
	Debug          bool
	DryRun         bool
	TemplateURL    string
	ExcludePaths   []string
	SkipInstall    bool
	InstallCommand string
	RemoteName     string
	Branch         string
	MaxRetries     int
	SkipCleanCheck bool
	From           string
	LastCommitFile string
	BackupDir      string
	Cleanup        bool
}

// File is a partial set of options as found in the config file or given on
// the command line. Nil fields are unset.
type File struct {
	Debug           *bool    `json:"debug,omitempty"`
	DryRun          *bool    `json:"dryRun,omitempty"`
	TemplateURL     *string  `json:"templateUrl,omitempty"`
	ExcludePaths    []string `json:"excludePaths,omitempty"`
	SkipInstall     *bool    `json:"skipInstall,omitempty"`
	InstallCommand  *string  `json:"installCommand,omitempty"`
	RemoteName      *string  `json:"remoteName,omitempty"`
	Branch          *string  `json:"branch,omitempty"`
	MaxPatchRetries *int     `json:"maxPatchRetries,omitempty"`
	SkipCleanCheck  *bool    `json:"skipCleanCheck,omitempty"`
	From            *string  `json:"from,omitempty"`
	LastCommitFile  *string  `json:"lastCommitFile,omitempty"`
	BackupDir       *string  `json:"backupDir,omitempty"`
	Cleanup         *bool    `json:"cleanup,omitempty"`
}

// Merge overlays cli on top of file. Scalar fields set in cli win;
// ExcludePaths concatenates file entries followed by cli entries.
func Merge(file, cli File) File {
	merged := file
	overlay(&merged.Debug, cli.Debug)
	overlay(&merged.DryRun, cli.DryRun)
	overlay(&merged.TemplateURL, cli.TemplateURL)
	overlay(&merged.SkipInstall, cli.SkipInstall)
	overlay(&merged.InstallCommand, cli.InstallCommand)
	overlay(&merged.RemoteName, cli.RemoteName)
	overlay(&merged.Branch, cli.Branch)
	overlay(&merged.MaxPatchRetries, cli.MaxPatchRetries)
	overlay(&merged.SkipCleanCheck, cli.SkipCleanCheck)
	overlay(&merged.From, cli.From)
	overlay(&merged.LastCommitFile, cli.LastCommitFile)
	overlay(&merged.BackupDir, cli.BackupDir)
	overlay(&merged.Cleanup, cli.Cleanup)

	merged.ExcludePaths = make([]string, 0, len(file.ExcludePaths)+len(cli.ExcludePaths))
	merged.ExcludePaths = append(merged.ExcludePaths, file.ExcludePaths...)
	merged.ExcludePaths = append(merged.ExcludePaths, cli.ExcludePaths...)
	return merged
}

func overlay[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

// Resolve fills unset fields with defaults
func Resolve(root string, f File) Options {
	opts := Options{
		Root:           root,
		Debug:          valueOr(f.Debug, false),
		DryRun:         valueOr(f.DryRun, false),
		TemplateURL:    stringOr(f.TemplateURL, DefaultTemplateURL),
		ExcludePaths:   append([]string(nil), f.ExcludePaths...),
		SkipInstall:    valueOr(f.SkipInstall, false),
		InstallCommand: stringOr(f.InstallCommand, DefaultInstallCommand),
		RemoteName:     stringOr(f.RemoteName, DefaultRemoteName),
		Branch:         stringOr(f.Branch, DefaultBranch),
		MaxRetries:     valueOr(f.MaxPatchRetries, DefaultMaxRetries),
		SkipCleanCheck: valueOr(f.SkipCleanCheck, false),
		From:           stringOr(f.From, ""),
		LastCommitFile: stringOr(f.LastCommitFile, DefaultLastCommitFile),
		BackupDir:      stringOr(f.BackupDir, DefaultBackupDir),
		Cleanup:        valueOr(f.Cleanup, false),
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return opts
}

func valueOr[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

// stringOr treats an empty string like an unset one
func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}
