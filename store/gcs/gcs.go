// Package gcs implements a blob store on Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bobg/pict"
	"github.com/bobg/pict/store"
)

var _ pict.Store = &Store{}

// Store is a Google Cloud Storage-based implementation of a blob store.
type Store struct {
	bucket *storage.BucketHandle
}

// New produces a new Store.
func New(bucket *storage.BucketHandle) *Store {
	return &Store{bucket: bucket}
}

const objPrefix = "files/"

func newObjName() string {
	return objPrefix + uuid.New().String()
}

func objName(id pict.Identifier) (string, error) {
	name := id.String()
	if !strings.HasPrefix(name, objPrefix) || len(name) == len(objPrefix) || !utf8.ValidString(name) {
		return "", errors.Wrapf(pict.ErrMalformed, "object identifier %q", name)
	}
	return name, nil
}

func notFound(err error, name string) error {
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(pict.ErrNotFound, "object %s", name)
	}
	return err
}

// Save implements pict.Store.Save.
// The object is created with a does-not-exist precondition,
// so an existing object is never overwritten.
func (s *Store) Save(ctx context.Context, r io.Reader) (pict.Identifier, error) {
	var (
		name        = newObjName()
		obj         = s.bucket.Object(name)
		wctx, abort = context.WithCancel(ctx)
		w           = obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(wctx)
	)
	defer abort()

	_, err := io.Copy(w, r)
	if err != nil {
		// Canceling the writer's context abandons the upload.
		abort()
		w.Close()
		obj.Delete(context.Background())
		return "", errors.Wrapf(err, "writing object %s", name)
	}
	if err = w.Close(); err != nil {
		var e *googleapi.Error
		if stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed {
			return "", errors.Wrapf(pict.ErrFileExists, "writing object %s", name)
		}
		obj.Delete(context.Background())
		return "", errors.Wrapf(err, "finishing object %s", name)
	}
	return pict.Identifier(name), nil
}

// SaveBytes implements pict.Store.SaveBytes.
func (s *Store) SaveBytes(ctx context.Context, b []byte) (pict.Identifier, error) {
	return s.Save(ctx, bytes.NewReader(b))
}

// Stream implements pict.Store.Stream.
func (s *Store) Stream(ctx context.Context, id pict.Identifier, offset, length int64) (io.ReadCloser, error) {
	name, err := objName(id)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		length = -1
	}
	r, err := s.bucket.Object(name).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, errors.Wrapf(notFound(err, name), "reading object %s", name)
	}
	return r, nil
}

// ReadInto implements pict.Store.ReadInto.
func (s *Store) ReadInto(ctx context.Context, id pict.Identifier, w io.Writer) error {
	r, err := s.Stream(ctx, id, 0, -1)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = io.Copy(w, r)
	return errors.Wrapf(err, "reading contents of object %s", id)
}

// Len implements pict.Store.Len.
func (s *Store) Len(ctx context.Context, id pict.Identifier) (int64, error) {
	name, err := objName(id)
	if err != nil {
		return 0, err
	}
	attrs, err := s.bucket.Object(name).Attrs(ctx)
	if err != nil {
		return 0, errors.Wrapf(notFound(err, name), "getting object attrs for %s", name)
	}
	return attrs.Size, nil
}

// Remove implements pict.Store.Remove.
func (s *Store) Remove(ctx context.Context, id pict.Identifier) error {
	name, err := objName(id)
	if err != nil {
		return err
	}
	err = s.bucket.Object(name).Delete(ctx)
	return errors.Wrapf(notFound(err, name), "deleting object %s", name)
}

func init() {
	store.Register("gcs", func(ctx context.Context, conf map[string]interface{}, _ pict.SettingsRepo) (pict.Store, error) {
		var options []option.ClientOption
		creds, ok := conf["creds"].(string)
		if !ok {
			return nil, errors.New(`missing "creds" parameter`)
		}
		bucketName, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		options = append(options, option.WithCredentialsFile(creds))
		c, err := storage.NewClient(ctx, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName)), nil
	})
}
