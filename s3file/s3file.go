// Package s3file reads sealed tables straight from S3 and uploads local
// tables to S3. Data files are accessed through ranged GETs, so a scan only
// transfers the skip lists and the blocks it actually decodes.
package s3file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bsm/cstore"
	"golang.org/x/sync/errgroup"
)

// API is the subset of the S3 client used by this package.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewClient creates an S3 client from the default AWS configuration chain.
// The region is optional.
func NewClient(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3file: load config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Object is a remote data file. It implements io.ReaderAt and is safe for
// concurrent use.
type Object struct {
	ctx    context.Context
	client API
	bucket string
	key    string
	size   int64
}

// Open stats a remote object. The context is used for all subsequent reads.
func Open(ctx context.Context, client API, bucket, key string) (*Object, error) {
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3file: head s3://%s/%s: %w", bucket, key, err)
	}

	return &Object{
		ctx:    ctx,
		client: client,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(out.ContentLength),
	}, nil
}

// Size returns the object size.
func (o *Object) Size() int64 { return o.size }

// ReadAt implements io.ReaderAt.
func (o *Object) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("s3file: negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= o.size {
		return 0, io.EOF
	}

	end := off + int64(len(p))
	if end > o.size {
		end = o.size
	}

	out, err := o.client.GetObject(o.ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end-1)),
	})
	if err != nil {
		return 0, fmt.Errorf("s3file: get s3://%s/%s: %w", o.bucket, o.key, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:end-off])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadFooter downloads and decodes the footer of a remote table.
func ReadFooter(ctx context.Context, client API, bucket, key string) (*cstore.Footer, error) {
	fkey := cstore.FooterPath(key)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(fkey),
	})
	if err != nil {
		return nil, fmt.Errorf("s3file: get s3://%s/%s: %w", bucket, fkey, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}

	footer := new(cstore.Footer)
	if err := footer.UnmarshalBinary(data); err != nil {
		var ferr *cstore.FormatError
		if errors.As(err, &ferr) {
			ferr.Path = "s3://" + bucket + "/" + fkey
		}
		return nil, err
	}
	return footer, nil
}

// OpenTable opens a reader over a remote table. The returned reader is
// bound to ctx.
func OpenTable(ctx context.Context, client API, bucket, key string, schema cstore.Schema, projected []int, preds []cstore.Predicate, o *cstore.ReaderOptions) (*cstore.Reader, error) {
	footer, err := ReadFooter(ctx, client, bucket, key)
	if err != nil {
		return nil, err
	}

	obj, err := Open(ctx, client, bucket, key)
	if err != nil {
		return nil, err
	}
	if obj.Size() < footer.DataEnd() {
		return nil, &cstore.FormatError{Path: "s3://" + bucket + "/" + key, Offset: obj.Size(), Err: cstore.ErrCorrupt}
	}
	r, err := cstore.NewReader(obj, obj.Size(), footer, schema, projected, preds, o)
	if err != nil {
		var ferr *cstore.FormatError
		if errors.As(err, &ferr) && ferr.Path == "" {
			ferr.Path = "s3://" + bucket + "/" + key
		}
		return nil, err
	}
	return r, nil
}

// UploadTable uploads the data and footer files of a local table
// concurrently. The data file is uploaded up to the end of its last sealed
// stripe only.
func UploadTable(ctx context.Context, client API, path, bucket, key string) error {
	footer, err := cstore.ReadFooter(path)
	if err != nil {
		return err
	}
	meta, err := footer.MarshalBinary()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := client.PutObject(gctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          io.NewSectionReader(f, 0, footer.DataEnd()),
			ContentLength: aws.Int64(footer.DataEnd()),
		})
		if err != nil {
			return fmt.Errorf("s3file: put s3://%s/%s: %w", bucket, key, err)
		}
		return nil
	})
	g.Go(func() error {
		fkey := cstore.FooterPath(key)
		_, err := client.PutObject(gctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(fkey),
			Body:          bytes.NewReader(meta),
			ContentLength: aws.Int64(int64(len(meta))),
		})
		if err != nil {
			return fmt.Errorf("s3file: put s3://%s/%s: %w", bucket, fkey, err)
		}
		return nil
	})
	return g.Wait()
}
