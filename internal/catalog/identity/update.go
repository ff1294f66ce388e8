package identity

// UpdateType discriminates the tagged Update variant. Selected by the loader
// from the XML's UpdateType (+ CategoryType for categories), never by
// structural sniffing.
type UpdateType string

const (
	UpdateTypeDetectoid      UpdateType = "Detectoid"
	UpdateTypeClassification UpdateType = "Classification"
	UpdateTypeProduct        UpdateType = "Product"
	UpdateTypeSoftware       UpdateType = "SoftwareUpdate"
	UpdateTypeDriver         UpdateType = "DriverUpdate"
)

// DigestAlgorithm identifies a file digest algorithm. SHA-256 is considered
// stronger than SHA-1 and is preferred as the file identifier.
type DigestAlgorithm string

const (
	DigestSHA1   DigestAlgorithm = "SHA1"
	DigestSHA256 DigestAlgorithm = "SHA256"
)

// Digest is one file digest: an algorithm plus base64-encoded bytes.
type Digest struct {
	Algorithm DigestAlgorithm
	Value     string // base64
}

// Strongest returns the strongest digest in the slice (SHA-256 over SHA-1),
// and false if digests is empty.
func Strongest(digests []Digest) (Digest, bool) {
	if len(digests) == 0 {
		return Digest{}, false
	}
	best := digests[0]
	for _, d := range digests[1:] {
		if rank(d.Algorithm) > rank(best.Algorithm) {
			best = d
		}
	}
	return best, true
}

func rank(a DigestAlgorithm) int {
	switch a {
	case DigestSHA256:
		return 2
	case DigestSHA1:
		return 1
	default:
		return 0
	}
}

// File describes one downloadable payload attached to an update.
type File struct {
	Name      string
	Size      int64
	SourceURL string
	Digests   []Digest
}

// PrerequisiteKind discriminates a Prerequisite: a single required identity,
// or a set where at least one member must be satisfied.
type PrerequisiteKind string

const (
	PrerequisiteSimple     PrerequisiteKind = "Simple"
	PrerequisiteAtLeastOne PrerequisiteKind = "AtLeastOne"
)

// Prerequisite is either a Simple (single identity) or an AtLeastOne (set of
// simples, optionally flagged as a category reference).
type Prerequisite struct {
	Kind PrerequisiteKind

	// Simple carries the identity for PrerequisiteSimple.
	Simple PackageIdentity

	// Members carries the candidate identities for PrerequisiteAtLeastOne.
	Members []PackageIdentity

	// IsCategory marks an AtLeastOne prerequisite that references a
	// Product/Classification category rather than a dependency.
	IsCategory bool
}

// DriverMetadata is one hardware-match entry attached to a DriverUpdate.
type DriverMetadata struct {
	HardwareID        string
	CompatibleID      string
	FeatureScore      byte // GG nibble pair of rank word 0xSSGGTHHH; 255 = none
	VersionHigh       uint64
	VersionLow        uint64
	Date              int64 // unix seconds
	Class             string
	Provider          string
	ComputerHardwareID string // empty if the driver does not constrain one
}

// Update is the tagged variant shared by every update kind. Shared fields
// (identity, title, XML reference) live here; capability traits are exposed
// through explicit predicates below rather than through inheritance.
type Update struct {
	Identity    PackageIdentity
	Type        UpdateType
	Title       string
	Description string

	// Files, Prerequisites, SupersededBy/Supersedes, BundledUpdates,
	// ProductIDs, ClassificationIDs, and Drivers are populated only for the
	// variants that carry them — see HasFiles, HasPrerequisites, etc.
	Files          []File
	Prerequisites  []Prerequisite
	SupersededBy   []PackageIdentity // from → by
	Supersedes     []PackageIdentity // by → from (reverse edge)
	BundledUpdates []PackageIdentity // members, populated on the bundle

	ProductIDs        []PackageIdentity
	ClassificationIDs []PackageIdentity

	KBArticleID string
	SupportURL  string
	OSUpgrade   bool

	Drivers []DriverMetadata
}

// HasFiles reports whether the variant carries downloadable files.
func (u *Update) HasFiles() bool {
	return u.Type == UpdateTypeSoftware || u.Type == UpdateTypeDriver
}

// HasPrerequisites reports whether the variant carries prerequisites.
func (u *Update) HasPrerequisites() bool {
	return u.Type == UpdateTypeSoftware || u.Type == UpdateTypeDriver
}

// HasClassification reports whether the variant is a Classification category.
func (u *Update) HasClassification() bool {
	return u.Type == UpdateTypeClassification
}

// HasProduct reports whether the variant is a Product category.
func (u *Update) HasProduct() bool {
	return u.Type == UpdateTypeProduct
}

// HasBundles reports whether the variant can bundle other updates.
func (u *Update) HasBundles() bool {
	return u.Type == UpdateTypeSoftware && len(u.BundledUpdates) > 0
}

// HasSupersedence reports whether the variant participates in supersedence.
func (u *Update) HasSupersedence() bool {
	return u.Type == UpdateTypeSoftware
}

// HasDrivers reports whether the variant carries driver metadata.
func (u *Update) HasDrivers() bool {
	return u.Type == UpdateTypeDriver
}

// IsCategory reports whether this update acts as a label (Product,
// Classification, or Detectoid) rather than an installable update.
func (u *Update) IsCategory() bool {
	switch u.Type {
	case UpdateTypeProduct, UpdateTypeClassification, UpdateTypeDetectoid:
		return true
	default:
		return false
	}
}
