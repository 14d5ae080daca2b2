// Package upload ties the blob store, the metadata repo, and the converter together
// for ingesting files, serving originals and derived variants,
// and deleting aliases.
package upload

import (
	"context"
	stderrs "errors"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/pict"
	"github.com/bobg/pict/gc"
	"github.com/bobg/pict/hasher"
	"github.com/bobg/pict/magick"
	"github.com/bobg/pict/processor"
)

// ErrTooLarge is returned for an upload that exceeds the configured limits.
var ErrTooLarge = errors.New("upload exceeds limits")

// Converter is the external media tooling.
type Converter interface {
	// Details identifies the media read from r.
	Details(ctx context.Context, r io.Reader, hint magick.InputType) (pict.Details, error)

	// Convert applies the magick arguments args to the image read from r.
	Convert(ctx context.Context, r io.Reader, args []string, format magick.Format) (io.ReadCloser, error)

	// Thumbnail extracts a still from the video or animation read from r.
	Thumbnail(ctx context.Context, r io.Reader, from magick.InputType, format magick.Format) (io.ReadCloser, error)
}

var _ Converter = magick.Magick{}

// Options configures a Manager.
// Zero limits are unlimited.
type Options struct {
	// Format, if set, is the format still images are re-encoded to on ingest.
	// It is also the format of motion previews, which otherwise are PNG.
	Format magick.Format

	// Filters, if non-empty, is the allow-list of processing operations.
	Filters []string

	MaxWidth, MaxHeight, MaxArea, MaxFrames int
}

// Upload describes a newly ingested file.
type Upload struct {
	Alias       pict.Alias
	DeleteToken pict.DeleteToken
	Hash        pict.Hash
	Identifier  pict.Identifier
	Details     pict.Details
}

// Variant is a stored derivation of an original.
type Variant struct {
	Identifier pict.Identifier
	Details    pict.Details
}

// Manager carries out uploads, derivations, and deletions.
type Manager struct {
	store  pict.Store
	repo   pict.FullRepo
	conv   Converter
	logger *zap.Logger
	opts   Options

	// Held while deciding a hash's fate:
	// attaching an alias to it, or removing it.
	locks gc.Locks

	variants processor.Processor[Variant]
	motions  processor.Processor[pict.Identifier]

	bg sync.WaitGroup
}

// New produces a new Manager.
// A nil logger discards log output.
func New(store pict.Store, repo pict.FullRepo, conv Converter, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		repo:   repo,
		conv:   conv,
		logger: logger,
		opts:   opts,
	}
}

// ParseChain parses processing operations against m's allow-list.
func (m *Manager) ParseChain(params []magick.Param) (magick.Chain, error) {
	return magick.ParseChain(params, m.opts.Filters)
}

// Ingest stores the file read from r under a newly generated alias.
// The extension ext names the file's type, or may be empty.
// Identical content is stored only once.
func (m *Manager) Ingest(ctx context.Context, r io.Reader, ext string) (Upload, error) {
	var typ magick.InputType
	if ext != "" {
		var err error
		if typ, err = magick.ParseInputType(ext); err != nil {
			return Upload{}, err
		}
	}

	var reencode magick.Format
	stored := typ
	if f := m.opts.Format; f != 0 && typ != 0 && !typ.IsVideo() && typ != magick.InputTypeFromFormat(f) {
		reencode = f
		stored = magick.InputTypeFromFormat(f)
	}

	return m.ingest(ctx, r, typ, reencode, func() (pict.Alias, bool) {
		return pict.GenerateAlias(stored.Ext()), true
	})
}

// Import stores the file read from r under the given name,
// which need not be a UUID.
// If the name is already taken the result is ErrAlreadyExists
// and nothing is stored.
func (m *Manager) Import(ctx context.Context, r io.Reader, name string) (Upload, error) {
	alias := pict.AliasFromExisting(name)
	typ, _ := magick.ParseInputType(alias.Extension())
	return m.ingest(ctx, r, typ, 0, func() (pict.Alias, bool) {
		return alias, false
	})
}

// A nonzero reencode is the format to convert the upload to before storing it.
// The newAlias callback reports whether it can produce another alias after a collision.
//
// The whole ingest holds a conversion permit.
// Nothing done while holding a hash lock may take another.
func (m *Manager) ingest(ctx context.Context, r io.Reader, typ magick.InputType, reencode magick.Format, newAlias func() (pict.Alias, bool)) (Upload, error) {
	release, err := processor.Acquire(ctx)
	if err != nil {
		return Upload{}, err
	}
	defer release()

	if reencode != 0 {
		converted, err := m.conv.Convert(ctx, r, nil, reencode)
		if err != nil {
			return Upload{}, errors.Wrapf(err, "re-encoding upload as %s", reencode)
		}
		defer converted.Close()

		r = converted
		typ = magick.InputTypeFromFormat(reencode)
	}

	hr := hasher.New(r)
	id, err := m.store.Save(ctx, hr)
	if err != nil {
		return Upload{}, errors.Wrap(err, "storing upload")
	}
	h, err := hr.Sum()
	if err != nil {
		m.removeBlob(ctx, id)
		return Upload{}, errors.Wrap(err, "hashing upload")
	}

	unlock, err := m.locks.Lock(ctx, h)
	if err != nil {
		m.removeBlob(ctx, id)
		return Upload{}, err
	}
	defer unlock()

	u := Upload{Hash: h}

	created := true
	err = m.repo.CreateHash(ctx, h)
	switch {
	case stderrs.Is(err, pict.ErrAlreadyExists):
		created = false
		m.removeBlob(ctx, id)
		if u.Identifier, err = m.repo.Identifier(ctx, h); err != nil {
			return Upload{}, errors.Wrapf(err, "getting identifier of existing %s", h)
		}

	case err != nil:
		m.removeBlob(ctx, id)
		return Upload{}, errors.Wrapf(err, "creating %s", h)

	default:
		u.Identifier = id
		if err := m.repo.RelateIdentifier(ctx, h, id); err != nil {
			m.undo(ctx, h)
			return Upload{}, errors.Wrapf(err, "relating identifier to %s", h)
		}
	}

	// From here on, a failure must undo a newly created hash.
	fail := func(err error) (Upload, error) {
		if created {
			m.undo(ctx, h)
		}
		return Upload{}, err
	}

	if u.Details, err = m.lookupDetails(ctx, u.Identifier, typ, false); err != nil {
		return fail(err)
	}
	if err := m.checkLimits(u.Details); err != nil {
		return fail(err)
	}

	if u.Alias, u.DeleteToken, err = m.attach(ctx, h, newAlias); err != nil {
		return fail(err)
	}

	m.logger.Debug("ingested",
		zap.Stringer("alias", u.Alias),
		zap.Stringer("hash", h),
		zap.Bool("duplicate", !created),
	)
	return u, nil
}

// Creates an alias for h with its delete token and both alias-hash relations.
// The caller holds h's lock.
func (m *Manager) attach(ctx context.Context, h pict.Hash, newAlias func() (pict.Alias, bool)) (pict.Alias, pict.DeleteToken, error) {
	var alias pict.Alias
	for {
		a, more := newAlias()
		err := m.repo.CreateAlias(ctx, a)
		if stderrs.Is(err, pict.ErrAlreadyExists) && more {
			continue
		}
		if err != nil {
			return pict.Alias{}, pict.DeleteToken{}, errors.Wrapf(err, "creating alias %s", a)
		}
		alias = a
		break
	}

	token := pict.GenerateDeleteToken()
	err := m.repo.RelateDeleteToken(ctx, alias, token)
	if err == nil {
		err = m.repo.RelateHash(ctx, alias, h)
	}
	if err == nil {
		err = m.repo.RelateAlias(ctx, h, alias)
	}
	if err != nil {
		detached := context.WithoutCancel(ctx)
		if cerr := m.repo.CleanupAlias(detached, alias); cerr != nil {
			m.logger.Error("cleaning up alias", zap.Stringer("alias", alias), zap.Error(cerr))
		}
		return pict.Alias{}, pict.DeleteToken{}, errors.Wrapf(err, "relating alias %s to %s", alias, h)
	}
	return alias, token, nil
}

func (m *Manager) checkLimits(d pict.Details) error {
	switch {
	case m.opts.MaxWidth > 0 && d.Width > m.opts.MaxWidth:
		return errors.Wrapf(ErrTooLarge, "width %d exceeds %d", d.Width, m.opts.MaxWidth)
	case m.opts.MaxHeight > 0 && d.Height > m.opts.MaxHeight:
		return errors.Wrapf(ErrTooLarge, "height %d exceeds %d", d.Height, m.opts.MaxHeight)
	case m.opts.MaxArea > 0 && d.Width*d.Height > m.opts.MaxArea:
		return errors.Wrapf(ErrTooLarge, "area %d exceeds %d", d.Width*d.Height, m.opts.MaxArea)
	case m.opts.MaxFrames > 0 && d.Frames > m.opts.MaxFrames:
		return errors.Wrapf(ErrTooLarge, "%d frames exceeds %d", d.Frames, m.opts.MaxFrames)
	}
	return nil
}

// Removes a newly created hash after a failed ingest.
// The caller holds h's lock.
func (m *Manager) undo(ctx context.Context, h pict.Hash) {
	if err := gc.Hash(context.WithoutCancel(ctx), m.repo, m.store, h); err != nil {
		m.logger.Error("undoing upload", zap.Stringer("hash", h), zap.Error(err))
	}
}

func (m *Manager) removeBlob(ctx context.Context, id pict.Identifier) {
	if err := m.store.Remove(context.WithoutCancel(ctx), id); err != nil {
		m.logger.Error("removing blob", zap.Stringer("identifier", id), zap.Error(err))
	}
}

// Details of the blob id, computed and recorded on first use.
// Computing them takes a conversion permit.
func (m *Manager) details(ctx context.Context, id pict.Identifier, hint magick.InputType) (pict.Details, error) {
	return m.lookupDetails(ctx, id, hint, true)
}

// Callers already holding a conversion permit pass acquire=false.
func (m *Manager) lookupDetails(ctx context.Context, id pict.Identifier, hint magick.InputType, acquire bool) (pict.Details, error) {
	d, err := m.repo.Details(ctx, id)
	if err == nil {
		return d, nil
	}
	if !stderrs.Is(err, pict.ErrNotFound) {
		return pict.Details{}, errors.Wrapf(err, "getting details of %s", id)
	}

	if acquire {
		release, err := processor.Acquire(ctx)
		if err != nil {
			return pict.Details{}, err
		}
		defer release()
	}

	if d, err = m.identify(ctx, id, hint); err != nil {
		return pict.Details{}, err
	}
	return d, errors.Wrapf(m.repo.RelateDetails(ctx, id, d), "relating details to %s", id)
}

func (m *Manager) identify(ctx context.Context, id pict.Identifier, hint magick.InputType) (pict.Details, error) {
	r, err := m.store.Stream(ctx, id, 0, -1)
	if err != nil {
		return pict.Details{}, errors.Wrapf(err, "reading %s", id)
	}
	defer r.Close()

	d, err := m.conv.Details(ctx, r, hint)
	return d, errors.Wrapf(err, "identifying %s", id)
}

// Original returns the identifier and details of the file alias refers to.
func (m *Manager) Original(ctx context.Context, alias pict.Alias) (pict.Identifier, pict.Details, error) {
	h, err := m.repo.Hash(ctx, alias)
	if err != nil {
		return "", pict.Details{}, errors.Wrapf(err, "getting hash of %s", alias)
	}
	id, err := m.repo.Identifier(ctx, h)
	if err != nil {
		return "", pict.Details{}, errors.Wrapf(err, "getting identifier of %s", h)
	}
	d, err := m.details(ctx, id, magick.DetailsHint(alias))
	return id, d, err
}

// Aliases lists every alias of the file alias refers to.
func (m *Manager) Aliases(ctx context.Context, alias pict.Alias) ([]pict.Alias, error) {
	h, err := m.repo.Hash(ctx, alias)
	if err != nil {
		return nil, errors.Wrapf(err, "getting hash of %s", alias)
	}
	aliases, err := m.repo.Aliases(ctx, h)
	return aliases, errors.Wrapf(err, "getting aliases of %s", h)
}

// Wait blocks until all background work has finished:
// derivations whose requesters stopped waiting,
// and cleanup after deletions.
func (m *Manager) Wait() {
	m.variants.Wait()
	m.motions.Wait()
	m.bg.Wait()
}
