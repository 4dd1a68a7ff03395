package forge

import "fmt"

const provenanceFormat = "**This release is mirrored from GitHub. The full changelog is available at %s.**\n\n" +
	"**Because storage on this mirror is limited, only the latest release is kept here. Older releases are available on GitHub.**\n\n" +
	"---\n\n"

// ProvenanceBody returns the final body of a mirror release: a notice
// pointing at the source release page and at the retention policy,
// followed by the original changelog.
func ProvenanceBody(sourceURL, body string) string {
	return fmt.Sprintf(provenanceFormat, sourceURL) + body
}
