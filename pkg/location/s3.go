// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package location

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config describes the bucket that backs an S3FileSystem.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	KMSKeyARN       string
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3FileSystem maps paths onto object keys below an optional prefix.
// Directories are empty marker objects whose key ends in a slash. S3 has no
// rename, so Rename copies and then deletes the source; readers see either
// the old or the new object under the destination key, never a partial one.
type S3FileSystem struct {
	bucket string
	prefix string
	api    s3API
	kmsKey string
}

// NewS3FileSystem builds an S3-backed FileSystem from cfg.
func NewS3FileSystem(ctx context.Context, cfg S3Config) (*S3FileSystem, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3 region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3FileSystemWithAPI(cfg.Bucket, cfg.Prefix, cfg.KMSKeyARN, client), nil
}

func newS3FileSystemWithAPI(bucket, prefix, kmsKey string, api s3API) *S3FileSystem {
	return &S3FileSystem{
		bucket: bucket,
		prefix: Clean(prefix),
		api:    api,
		kmsKey: kmsKey,
	}
}

func (s *S3FileSystem) key(name string) string {
	return Join(s.prefix, name)
}

func (s *S3FileSystem) dirKey(name string) string {
	key := s.key(name)
	if key == "" {
		return ""
	}
	return key + "/"
}

func (s *S3FileSystem) MkdirAll(ctx context.Context, name string) error {
	key := s.dirKey(name)
	if key == "" {
		return nil
	}
	return s.putObject(ctx, key, nil, false)
}

func (s *S3FileSystem) IsDir(ctx context.Context, name string) (bool, error) {
	prefix := s.dirKey(name)
	if prefix == "" {
		return true, nil
	}
	resp, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list objects %s: %w", prefix, err)
	}
	return len(resp.Contents) > 0, nil
}

func (s *S3FileSystem) Exists(ctx context.Context, name string) (bool, error) {
	key := s.key(name)
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return s.IsDir(ctx, name)
}

func (s *S3FileSystem) CreateNew(ctx context.Context, name string) (bool, error) {
	if err := validPath(name); err != nil {
		return false, fmt.Errorf("create %q: %w", name, err)
	}
	err := s.putObject(ctx, s.key(name), nil, true)
	if err == nil {
		return true, nil
	}
	if isPreconditionFailed(err) {
		return false, nil
	}
	return false, err
}

func (s *S3FileSystem) Rename(ctx context.Context, from, to string) error {
	src, dst := s.key(from), s.key(to)
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + src)),
	}
	if s.kmsKey != "" {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(s.kmsKey)
	}
	if _, err := s.api.CopyObject(ctx, input); err != nil {
		if isNotFound(err) {
			return &fs.PathError{Op: "rename", Path: from, Err: fs.ErrNotExist}
		}
		return fmt.Errorf("copy object %s to %s: %w", src, dst, err)
	}
	if err := s.deleteObject(ctx, src); err != nil {
		return err
	}
	return nil
}

func (s *S3FileSystem) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.key(name)
	resp, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return resp.Body, nil
}

func (s *S3FileSystem) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := validPath(name); err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	return &s3Writer{ctx: ctx, fs: s, key: s.key(name)}, nil
}

func (s *S3FileSystem) Remove(ctx context.Context, name string) error {
	if err := s.deleteObject(ctx, s.key(name)); err != nil {
		return err
	}
	if key := s.dirKey(name); key != "" {
		return s.deleteObject(ctx, key)
	}
	return nil
}

func (s *S3FileSystem) putObject(ctx context.Context, key string, body []byte, ifAbsent bool) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if ifAbsent {
		input.IfNoneMatch = aws.String("*")
	}
	if s.kmsKey != "" {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(s.kmsKey)
	}
	if _, err := s.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *S3FileSystem) deleteObject(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

type s3Writer struct {
	ctx    context.Context
	fs     *S3FileSystem
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	return w.fs.putObject(w.ctx, w.key, w.buf.Bytes(), false)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// isPreconditionFailed covers both a lost If-None-Match race and a conflicting
// concurrent conditional write; either way another writer owns the object.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
