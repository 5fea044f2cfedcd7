// Package linker applies linked-property values and named relationships
// between already-reconciled records. Link targets are resolved through the
// resolution chain; targets that cannot be resolved are dropped with a
// warning rather than failing the dataset. The builder is re-entrant: it
// reads existing links and relations first and only creates what is
// missing, so a resumed run converges instead of duplicating.
package linker

import (
	"context"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sparctools/metasync/pkg/entity"
	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/logging"
	"github.com/sparctools/metasync/pkg/platform"
	"github.com/sparctools/metasync/pkg/resolve"
	"github.com/sparctools/metasync/pkg/snapshot"
)

// FolderProperty is the payload property naming dataset folders a record is
// about. Its values are attached to the record as platform files.
const FolderProperty = "hasFolderAboutIt"

var titleCaser = cases.Title(language.English)

// Builder creates links, relationships, and file attachments for one
// dataset.
type Builder struct {
	client   platform.Client
	registry *entity.Registry
	resolver *resolve.Resolver
	dataset  string
	doc      *snapshot.Document
	log      zerolog.Logger
}

// New returns a builder for one dataset's document.
func New(client platform.Client, registry *entity.Registry, resolver *resolve.Resolver, datasetID string, doc *snapshot.Document) *Builder {
	return &Builder{
		client:   client,
		registry: registry,
		resolver: resolver,
		dataset:  datasetID,
		doc:      doc,
		log:      logging.With().Str("dataset", datasetID).Logger(),
	}
}

// Apply creates the missing links and relationships for every record of the
// model in the document. Transient remote failures abort; unresolved
// targets are logged and skipped.
func (b *Builder) Apply(ctx context.Context, typ *entity.Type) error {
	if len(typ.Links) == 0 && len(typ.Relationships) == 0 && !typ.AttachFiles {
		return nil
	}

	col := typ.Filter(b.doc.Collection(typ.Source()))
	for localID, rec := range col {
		recordID, err := b.resolver.Resolve(ctx, typ.Name, localID)
		if err != nil {
			if errors.IsNotFound(err) {
				b.log.Warn().Str("model", typ.Name).Str("local_id", localID).
					Msg("record not resolvable, skipping its links")
				continue
			}
			return err
		}
		if err := b.applyRecord(ctx, typ, localID, recordID, rec); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) applyRecord(ctx context.Context, typ *entity.Type, localID, recordID string, rec snapshot.Record) error {
	if len(typ.Links) > 0 {
		if err := b.applyLinks(ctx, typ, localID, recordID, rec); err != nil {
			return err
		}
	}
	if len(typ.Relationships) > 0 {
		if err := b.applyRelations(ctx, typ, localID, recordID, rec); err != nil {
			return err
		}
	}
	if typ.AttachFiles {
		if err := b.attachFiles(ctx, typ, recordID, rec); err != nil {
			return err
		}
	}
	return nil
}

// applyLinks issues at most one batched create call per record.
func (b *Builder) applyLinks(ctx context.Context, typ *entity.Type, localID, recordID string, rec snapshot.Record) error {
	var wanted []platform.Link
	for _, spec := range typ.Links {
		for _, target := range spec.Targets(rec.Properties) {
			targetID, err := b.resolver.Resolve(ctx, spec.Target, target)
			if err != nil {
				if errors.IsNotFound(err) {
					b.log.Warn().Str("model", typ.Name).Str("local_id", localID).
						Str("property", spec.Property).Str("target", target).
						Msg("link target unresolved, dropping link")
					continue
				}
				return err
			}
			wanted = append(wanted, platform.Link{Property: spec.Property, To: targetID})
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	existing, err := b.client.Links(ctx, b.dataset, typ.Name, recordID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, l := range existing {
		have[l.Property+"\x00"+l.To] = true
	}

	missing := wanted[:0]
	for _, l := range wanted {
		if !have[l.Property+"\x00"+l.To] {
			missing = append(missing, l)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return b.client.CreateLinks(ctx, b.dataset, typ.Name, recordID, missing)
}

// applyRelations issues one relate call per relationship name per record.
func (b *Builder) applyRelations(ctx context.Context, typ *entity.Type, localID, recordID string, rec snapshot.Record) error {
	existing, err := b.client.Relations(ctx, b.dataset, recordID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, rel := range existing {
		have[rel.Name+"\x00"+rel.To] = true
	}

	for _, spec := range typ.Relationships {
		var targets []string
		for _, target := range spec.Targets(rec.Properties) {
			targetID, err := b.resolver.Resolve(ctx, spec.Target, target)
			if err != nil {
				if errors.IsNotFound(err) {
					b.log.Warn().Str("model", typ.Name).Str("local_id", localID).
						Str("relationship", spec.Name).Str("target", target).
						Msg("relationship target unresolved, dropping")
					continue
				}
				return err
			}
			if !have[spec.Name+"\x00"+targetID] {
				targets = append(targets, targetID)
			}
		}
		if len(targets) == 0 {
			continue
		}
		if err := b.client.Relate(ctx, b.dataset, typ.Name, recordID, spec.Name, DisplayName(spec.Name), targets); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) attachFiles(ctx context.Context, typ *entity.Type, recordID string, rec snapshot.Record) error {
	for _, v := range entity.Values(rec.Properties, FolderProperty) {
		path, ok := v.(string)
		if !ok || path == "" {
			continue
		}
		if err := b.client.AttachFile(ctx, b.dataset, recordID, path); err != nil {
			if errors.IsNotFound(err) {
				b.log.Warn().Str("model", typ.Name).Str("path", path).
					Msg("attachment path not found on dataset, skipping")
				continue
			}
			return err
		}
	}
	return nil
}

// DisplayName renders a camel-cased relationship name as a spaced title,
// e.g. "hasContactPerson" becomes "Has Contact Person". Names that are not
// camel-cased identifiers (IRIs) pass through unchanged.
func DisplayName(name string) string {
	if strings.ContainsAny(name, ":/") {
		return name
	}
	var b strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return titleCaser.String(b.String())
}
