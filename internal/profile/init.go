package profile

import "fmt"

// InitProfile returns a commented YAML starter template for a new profile.
func InitProfile(name string) string {
	return fmt.Sprintf(`name: %s
description: Custom rule bundle

# Rules here are appended after the policy's own rules when the policy lists
#   profiles: [%s]
# Ids are prefixed with the profile name, e.g. %s.no-curl.
# Keys are the same as in a policy: tool, id, description,
# <field>, <field>_regex, <field>_exclude_regex.

deny:
  - id: no-curl
    tool: Bash
    command_regex: '^curl\s'
    description: network fetches go through WebFetch
  # - id: your-rule
  #   tool: Write
  #   file_path_regex: '^/etc/'

allow:
  - id: read-workspace
    tool: Read
    file_path_regex: '^/workspace/'
    file_path_exclude_regex: '\.\.'
`, name, name, name)
}
