package sync

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tmplsync/template_sync/internal/manifest"
)

// Custom manifest strategies dropping dependencies of removed template features
const (
	StrategyIgnoreRemovedTypedoc   = "ignore-removed:typedoc"
	StrategyIgnoreRemovedTemplates = "ignore-removed:templates"
)

var dependencyFields = []string{"dependencies", "devDependencies", "peerDependencies"}

// ignoreRemoved drops the key when feature is absent from the repository and
// otherwise takes the incoming value.
func ignoreRemoved(feature string) manifest.StrategyFunc {
	return func(ctx context.Context, c manifest.Conflict) (*manifest.Node, bool) {
		exists, err := StatProbe(c.Root)(ctx, feature)
		if err != nil {
			logrus.WithError(err).WithField("feature", feature).Warn("Failed to probe feature")
			return nil, false
		}
		if !exists {
			logrus.WithFields(logrus.Fields{
				"file":    c.File,
				"key":     c.Key(),
				"feature": feature,
			}).Debug("Dropping dependency of removed feature")
			return nil, true
		}
		return c.Theirs, true
	}
}

// ManifestPolicies returns the resolver configurations for the root manifest
// and for every nested workspace manifest. files limits the candidates; nil
// walks the repository.
func ManifestPolicies(root, backupDir string, files []string) []manifest.Config {
	var rootRules []manifest.Rule
	for _, field := range dependencyFields[:2] {
		rootRules = append(rootRules,
			manifest.Rule{Path: field + ".typedoc*", Strategies: []string{StrategyIgnoreRemovedTypedoc, manifest.StrategyTheirs}},
			manifest.Rule{Path: field + ".plop", Strategies: []string{StrategyIgnoreRemovedTemplates, manifest.StrategyTheirs}},
			manifest.Rule{Path: field + ".enquirer", Strategies: []string{StrategyIgnoreRemovedTemplates, manifest.StrategyTheirs}},
		)
	}

	var nestedRules []manifest.Rule
	for _, field := range dependencyFields {
		nestedRules = append(nestedRules, manifest.Rule{
			Path:       field + ".*",
			Strategies: []string{manifest.StrategySemverMax, manifest.StrategyTheirs},
		})
	}

	defaults := []string{manifest.StrategyMerge, manifest.StrategyTheirs}
	return []manifest.Config{
		{
			Root:            root,
			Include:         []string{"package.json"},
			Files:           files,
			DefaultStrategy: defaults,
			Rules:           rootRules,
			CustomStrategies: map[string]manifest.StrategyFunc{
				StrategyIgnoreRemovedTypedoc:   ignoreRemoved("typedoc.config.js"),
				StrategyIgnoreRemovedTemplates: ignoreRemoved("scripts/templates"),
			},
			BackupDir: backupDir,
		},
		{
			Root:            root,
			Include:         []string{"**/package.json"},
			Exclude:         []string{"package.json", "**/node_modules/**", "**/dist/**", "**/.next/**"},
			Files:           files,
			DefaultStrategy: defaults,
			Rules:           nestedRules,
			BackupDir:       backupDir,
		},
	}
}
