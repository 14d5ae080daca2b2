package upload

import (
	"context"
	stderrs "errors"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/pict"
	"github.com/bobg/pict/magick"
	"github.com/bobg/pict/processor"
)

// VariantKey names the derivation of the file with hash h
// by chain into format.
func VariantKey(chain magick.Chain, h pict.Hash, format magick.Format) string {
	return chain.Path() + "/" + h.String() + format.Ext()
}

// Variant returns the derivation of alias's file by chain into format,
// computing and storing it if necessary.
//
// Concurrent requests for the same derivation share one computation.
// The computation finishes and is recorded even if ctx is canceled first,
// so a later request finds it.
func (m *Manager) Variant(ctx context.Context, alias pict.Alias, chain magick.Chain, format magick.Format) (Variant, error) {
	h, err := m.repo.Hash(ctx, alias)
	if err != nil {
		return Variant{}, errors.Wrapf(err, "getting hash of %s", alias)
	}
	key := VariantKey(chain, h, format)

	v, err := m.cachedVariant(ctx, h, key, format)
	if err == nil {
		return v, nil
	}
	if !stderrs.Is(err, pict.ErrNotFound) {
		return Variant{}, err
	}

	return m.variants.Run(ctx, key, func(ctx context.Context) (Variant, error) {
		// It may have been finished since the check above.
		v, err := m.cachedVariant(ctx, h, key, format)
		if err == nil {
			return v, nil
		}
		if !stderrs.Is(err, pict.ErrNotFound) {
			return Variant{}, err
		}

		return m.computeVariant(ctx, alias, h, key, chain, format)
	})
}

// VariantDetails returns the details of an existing derivation.
// It does not compute one.
func (m *Manager) VariantDetails(ctx context.Context, alias pict.Alias, chain magick.Chain, format magick.Format) (pict.Details, error) {
	h, err := m.repo.Hash(ctx, alias)
	if err != nil {
		return pict.Details{}, errors.Wrapf(err, "getting hash of %s", alias)
	}
	v, err := m.cachedVariant(ctx, h, VariantKey(chain, h, format), format)
	return v.Details, err
}

// A recorded variant whose blob has gone missing counts as not found.
func (m *Manager) cachedVariant(ctx context.Context, h pict.Hash, key string, format magick.Format) (Variant, error) {
	id, err := m.repo.VariantIdentifier(ctx, h, key)
	if err != nil {
		return Variant{}, errors.Wrapf(err, "getting variant %s", key)
	}
	if _, err := m.store.Len(ctx, id); err != nil {
		return Variant{}, errors.Wrapf(err, "checking variant blob %s", id)
	}
	d, err := m.details(ctx, id, magick.InputTypeFromFormat(format))
	if err != nil {
		return Variant{}, err
	}
	return Variant{Identifier: id, Details: d}, nil
}

func (m *Manager) computeVariant(ctx context.Context, alias pict.Alias, h pict.Hash, key string, chain magick.Chain, format magick.Format) (Variant, error) {
	src, err := m.source(ctx, alias, h)
	if err != nil {
		return Variant{}, err
	}

	release, err := processor.Acquire(ctx)
	if err != nil {
		return Variant{}, err
	}
	defer release()

	in, err := m.store.Stream(ctx, src, 0, -1)
	if err != nil {
		return Variant{}, errors.Wrapf(err, "reading %s", src)
	}
	defer in.Close()

	out, err := m.conv.Convert(ctx, in, chain.Args(), format)
	if err != nil {
		return Variant{}, errors.Wrapf(err, "converting %s", src)
	}
	defer out.Close()

	id, err := m.store.Save(ctx, out)
	if err != nil {
		return Variant{}, errors.Wrapf(err, "storing variant %s", key)
	}
	d, err := m.identify(ctx, id, magick.InputTypeFromFormat(format))
	if err != nil {
		m.removeBlob(ctx, id)
		return Variant{}, err
	}

	err = m.relateDerived(ctx, h, id, d, func() error {
		return m.repo.RelateVariantIdentifier(ctx, h, key, id)
	})
	if err != nil {
		return Variant{}, errors.Wrapf(err, "recording variant %s", key)
	}
	return Variant{Identifier: id, Details: d}, nil
}

// The blob to derive variants of alias's file from:
// the original for a still image,
// the motion preview for video and animation.
func (m *Manager) source(ctx context.Context, alias pict.Alias, h pict.Hash) (pict.Identifier, error) {
	id, err := m.repo.Identifier(ctx, h)
	if err != nil {
		return "", errors.Wrapf(err, "getting identifier of %s", h)
	}
	d, err := m.details(ctx, id, magick.DetailsHint(alias))
	if err != nil {
		return "", err
	}
	if !d.IsMotion() {
		return id, nil
	}
	from, err := magick.InputTypeFromMime(d.MimeType)
	if err != nil {
		return "", err
	}
	return m.motion(ctx, h, id, from)
}

func (m *Manager) motionFormat() magick.Format {
	if m.opts.Format != 0 {
		return m.opts.Format
	}
	return magick.PNG
}

func (m *Manager) motion(ctx context.Context, h pict.Hash, orig pict.Identifier, from magick.InputType) (pict.Identifier, error) {
	cached := func(ctx context.Context) (pict.Identifier, error) {
		id, err := m.repo.MotionIdentifier(ctx, h)
		if err != nil {
			return "", errors.Wrapf(err, "getting motion identifier of %s", h)
		}
		if _, err := m.store.Len(ctx, id); err != nil {
			return "", errors.Wrapf(err, "checking motion blob %s", id)
		}
		return id, nil
	}

	id, err := cached(ctx)
	if !stderrs.Is(err, pict.ErrNotFound) {
		return id, err
	}

	return m.motions.Run(ctx, h.String(), func(ctx context.Context) (pict.Identifier, error) {
		id, err := cached(ctx)
		if !stderrs.Is(err, pict.ErrNotFound) {
			return id, err
		}

		release, err := processor.Acquire(ctx)
		if err != nil {
			return "", err
		}
		defer release()

		in, err := m.store.Stream(ctx, orig, 0, -1)
		if err != nil {
			return "", errors.Wrapf(err, "reading %s", orig)
		}
		defer in.Close()

		format := m.motionFormat()
		out, err := m.conv.Thumbnail(ctx, in, from, format)
		if err != nil {
			return "", errors.Wrapf(err, "extracting still from %s", orig)
		}
		defer out.Close()

		if id, err = m.store.Save(ctx, out); err != nil {
			return "", errors.Wrapf(err, "storing motion preview of %s", h)
		}
		d, err := m.identify(ctx, id, magick.InputTypeFromFormat(format))
		if err != nil {
			m.removeBlob(ctx, id)
			return "", err
		}

		err = m.relateDerived(ctx, h, id, d, func() error {
			return m.repo.RelateMotionIdentifier(ctx, h, id)
		})
		return id, errors.Wrapf(err, "recording motion preview of %s", h)
	})
}

// Records the details of a newly stored derivation id of h,
// and then calls relate to attach it to h,
// under h's lock.
// If h has been removed meanwhile, id is removed too
// and the result is ErrNotFound.
func (m *Manager) relateDerived(ctx context.Context, h pict.Hash, id pict.Identifier, d pict.Details, relate func() error) error {
	unlock, err := m.locks.Lock(ctx, h)
	if err != nil {
		m.removeBlob(ctx, id)
		return err
	}
	defer unlock()

	if _, err := m.repo.Identifier(ctx, h); err != nil {
		m.removeBlob(ctx, id)
		return errors.Wrapf(err, "checking %s", h)
	}

	err = m.repo.RelateDetails(ctx, id, d)
	if err == nil {
		err = relate()
	}
	if err != nil {
		detached := context.WithoutCancel(ctx)
		m.removeBlob(detached, id)
		if cerr := m.repo.CleanupIdentifier(detached, id); cerr != nil {
			m.logger.Error("cleaning up identifier", zap.Stringer("identifier", id), zap.Error(cerr))
		}
	}
	return err
}
