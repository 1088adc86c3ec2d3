package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

var (
	errObjectMissing = errors.New("object does not exist")
	errConflict      = errors.New("object changed concurrently")
)

// objects is the slice of the Cloud Storage API the store relies on.
type objects interface {
	// create writes name only if it does not exist yet.
	create(ctx context.Context, name string, data []byte) (bool, error)
	// read returns the content and generation of name.
	read(ctx context.Context, name string) ([]byte, int64, error)
	// generation returns the current generation of name from its metadata.
	generation(ctx context.Context, name string) (int64, error)
	// replace overwrites name if its generation still matches.
	replace(ctx context.Context, name string, data []byte, generation int64) error
	names(ctx context.Context, prefix string) iter.Seq2[string, error]
}

type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b bucketObjects) create(ctx context.Context, name string, data []byte) (bool, error) {
	obj := b.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
	err := b.write(ctx, obj, data)
	if isPreconditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b bucketObjects) read(ctx context.Context, name string) ([]byte, int64, error) {
	reader, err := b.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, errObjectMissing
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open object %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, reader.Attrs.Generation, nil
}

func (b bucketObjects) generation(ctx context.Context, name string) (int64, error) {
	attrs, err := b.bucket.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return 0, errObjectMissing
	}
	if err != nil {
		return 0, fmt.Errorf("stat object %s: %w", name, err)
	}
	return attrs.Generation, nil
}

func (b bucketObjects) replace(ctx context.Context, name string, data []byte, generation int64) error {
	obj := b.bucket.Object(name).If(storage.Conditions{GenerationMatch: generation})
	err := b.write(ctx, obj, data)
	if isPreconditionFailed(err) {
		return errConflict
	}
	return err
}

func (b bucketObjects) names(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		query := &storage.Query{Prefix: prefix}
		if err := query.SetAttrSelection([]string{"Name"}); err != nil {
			yield("", fmt.Errorf("configure listing: %w", err))
			return
		}
		it := b.bucket.Objects(ctx, query)
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("list objects: %w", err))
				return
			}
			if !yield(attrs.Name, nil) {
				return
			}
		}
	}
}

func (b bucketObjects) write(ctx context.Context, obj *storage.ObjectHandle, data []byte) error {
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	// One request per record; records are small.
	writer.ChunkSize = 0
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
