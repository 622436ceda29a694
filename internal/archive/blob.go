package archive

import (
	"context"
	"errors"
	"fmt"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/stepwise/internal/engine"
	"github.com/kode4food/stepwise/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobArchive stores serialized schedule contexts using gocloud.dev/blob,
// supporting S3, GCS, Azure Blob Storage, local files and memory
type BlobArchive struct {
	bucket *blob.Bucket
	prefix string
}

var (
	ErrSnapshotNotFound = errors.New("archived context not found")
	ErrInvalidSnapshot  = errors.New("archived context is not a map")
)

var _ engine.Archive = (*BlobArchive)(nil)

func NewBlobArchive(
	ctx context.Context, bucketURL, prefix string,
) (*BlobArchive, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobArchive{bucket: bucket, prefix: prefix}, nil
}

func (a *BlobArchive) Get(
	ctx context.Context, id api.ScheduleID,
) (api.Args, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
		}
		return nil, err
	}

	v, err := api.ParseValue(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSnapshot, id)
	}
	res := make(api.Args, len(m))
	for k, v := range m {
		res[api.Name(k)] = v
	}
	return res, nil
}

func (a *BlobArchive) Put(
	ctx context.Context, id api.ScheduleID, data api.Args,
) error {
	enc, err := data.Value().MarshalJSON()
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, a.keyFor(id), enc, &blob.WriterOptions{
		ContentType: "application/json",
	})
}

func (a *BlobArchive) Delete(ctx context.Context, id api.ScheduleID) error {
	err := a.bucket.Delete(ctx, a.keyFor(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Exists reports whether a context is archived under id
func (a *BlobArchive) Exists(
	ctx context.Context, id api.ScheduleID,
) (bool, error) {
	return a.bucket.Exists(ctx, a.keyFor(id))
}

func (a *BlobArchive) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchive) keyFor(id api.ScheduleID) string {
	return a.prefix + string(id) + ".json"
}
