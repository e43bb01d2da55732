// Package decoy renders bait artifacts into a session's virtual tree.
// Blueprints are file templates whose {{KEY}} placeholders are resolved
// against per-session generated values, so every attacker sees unique
// but internally consistent credentials.
package decoy

import (
	"fmt"
	"math/rand"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/voslund/decoynet/pkg/vfs"
)

// Template is one decoy file blueprint.
type Template struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

// Blueprints is a set of decoy templates, loadable from YAML or built in.
type Blueprints struct {
	Templates []Template `yaml:"templates"`
}

// LoadBlueprints reads a blueprint set from a YAML file.
func LoadBlueprints(path string) (*Blueprints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blueprints: %w", err)
	}
	var bp Blueprints
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("parse blueprints: %w", err)
	}
	for i, tpl := range bp.Templates {
		if tpl.Path == "" {
			return nil, fmt.Errorf("blueprint %d: missing path", i)
		}
	}
	return &bp, nil
}

// Render resolves every placeholder in the template set.
func (bp *Blueprints) Render(values Values) []Template {
	rendered := make([]Template, 0, len(bp.Templates))
	for _, tpl := range bp.Templates {
		rendered = append(rendered, Template{
			Path:    tpl.Path,
			Content: values.Expand(tpl.Content),
		})
	}
	return rendered
}

// Place writes a single decoy artifact into the tree, creating parent
// directories as needed. Used both for initial population and for
// oracle-directed injection mid-session.
func Place(fs *vfs.MemoryFS, p, content string) error {
	if err := fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("decoy dir for %s: %w", p, err)
	}
	if err := fs.WriteDecoy(p, []byte(content)); err != nil {
		return fmt.Errorf("decoy %s: %w", p, err)
	}
	return nil
}

// Populate renders the blueprints and writes each artifact into the tree
// as a decoy.
func Populate(fs *vfs.MemoryFS, bp *Blueprints, values Values) error {
	for _, tpl := range bp.Render(values) {
		if err := Place(fs, tpl.Path, tpl.Content); err != nil {
			return err
		}
	}
	return nil
}

// Builtin returns the default blueprint set: environment files, cloud
// credentials, backup scripts and operator notes that reward an attacker's
// enumeration with consistent fake secrets.
func Builtin() *Blueprints {
	return &Blueprints{Templates: []Template{
		{
			Path: "/root/.env",
			Content: `# Production environment - DO NOT COMMIT
APP_ENV=production
APP_URL=https://{{PUBLIC_DOMAIN}}
APP_ENCRYPTION_KEY={{APP_ENCRYPTION_KEY}}

DB_HOST={{DB_HOST}}
DB_NAME={{DB_NAME}}
DB_USER={{DB_USER}}
DB_PASSWORD={{DB_PASSWORD}}

REDIS_HOST=127.0.0.1
REDIS_PASSWORD={{REDIS_PASSWORD}}

JWT_SECRET={{JWT_SECRET}}
`,
		},
		{
			Path: "/root/.aws/credentials",
			Content: `[default]
aws_access_key_id = AKIA{{RANDOM_AWS_ID_16}}
aws_secret_access_key = {{RANDOM_AWS_SECRET_40}}

[staging]
aws_access_key_id = AKIA{{RANDOM_AWS_ID_STAGING}}
aws_secret_access_key = {{RANDOM_AWS_SECRET_STAGING}}
`,
		},
		{
			Path: "/root/backup.sh",
			Content: `#!/bin/bash
# Nightly DB dump shipped to the backup host. Cron runs this at 02:30.
set -e

mysqldump -h {{DB_HOST}} -u {{DB_ROOT_USER}} -p'{{DB_ROOT_PASSWORD}}' {{DB_NAME}} | gzip > /tmp/{{DB_NAME}}.sql.gz
sshpass -p '{{BACKUP_SERVER_PASSWORD}}' scp /tmp/{{DB_NAME}}.sql.gz backup@{{BACKUP_SERVER}}:/backups/
rm -f /tmp/{{DB_NAME}}.sql.gz
`,
		},
		{
			Path: "/home/user/.bash_history",
			Content: `ls -la
git clone https://{{GITHUB_PAT_TOKEN}}@github.com/{{ORG_NAME}}/deploy-tools.git
cd deploy-tools
sshpass -p '{{STAGING_PASSWORD}}' ssh deploy@{{INTERNAL_IP}}
exit
`,
		},
		{
			Path: "/root/deploy_notes.txt",
			Content: `Deployment runbook ({{ORG_NAME}})
Owner: {{ADMIN_NAME}} <{{ADMIN_EMAIL}}>

1. Push image, then roll the app behind https://{{PUBLIC_DOMAIN}}
2. App nodes sit on the {{INTERNAL_IP}} subnet, staging password rotates monthly
3. Outbound mail goes through Mailgun, api key: {{MAILGUN_API_KEY}}
4. If the dump job fails check backup.sh and the backup host first
`,
		},
	}}
}

// fallbackTemplates are placed into whatever directory the attacker is
// browsing, so they cannot carry fixed paths like the builtin set.
var fallbackTemplates = []Template{
	{
		Path: "db_credentials.txt",
		Content: `host={{DB_HOST}}
user={{DB_USER}}
password={{DB_PASSWORD}}
`,
	},
	{
		Path: ".aws_secrets",
		Content: `AWS_ACCESS_KEY_ID=AKIA{{RANDOM_AWS_ID_16}}
AWS_SECRET_ACCESS_KEY={{RANDOM_AWS_SECRET_40}}
`,
	},
	{
		Path: ".github_token",
		Content: `{{GITHUB_PAT_TOKEN}}
`,
	},
	{
		Path: "backup_config.php",
		Content: `<?php
define('DB_HOST', '{{DB_HOST}}');
define('DB_USER', '{{DB_ROOT_USER}}');
define('DB_PASS', '{{DB_ROOT_PASSWORD}}');
define('JWT_SECRET', '{{JWT_SECRET}}');
`,
	},
}

// Fallback fabricates one credential-looking decoy inside dir, for
// deception verdicts that name no artifact of their own.
func Fallback(rng *rand.Rand, dir string) Template {
	tpl := fallbackTemplates[rng.Intn(len(fallbackTemplates))]
	return Template{
		Path:    path.Join(dir, tpl.Path),
		Content: NewValues(rng).Expand(tpl.Content),
	}
}
