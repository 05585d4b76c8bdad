// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package iosource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
)

var registerS3Once sync.Once

func registerS3() {
	registerS3Once.Do(func() {
		file.RegisterImplementation("s3", func() file.Implementation {
			return s3file.NewImplementation(
				s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
		})
	})
}

// openRemote opens an http(s) URL or an s3:// path and wraps it in the
// same forward-only buffered Source local sequential reads use, since
// neither transport supports a cheap seek/pread primitive.
func openRemote(ctx context.Context, name string) (Source, error) {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		resp, err := http.Get(name)
		if err != nil {
			return nil, fmt.Errorf("iosource: GET %q: %w", name, err)
		}
		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			return nil, fmt.Errorf("iosource: GET %q: status %s", name, resp.Status)
		}
		return newBufferedSequential(resp.Body, resp.ContentLength), nil
	}

	registerS3()
	info, err := file.Stat(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("iosource: stat %q: %w", name, err)
	}
	f, err := file.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("iosource: open %q: %w", name, err)
	}
	return newBufferedSequential(&remoteFileCloser{f: f, ctx: ctx, rd: f.Reader(ctx)}, info.Size()), nil
}

// remoteFileCloser adapts a grailbio file.File's context-scoped Reader/Close
// pair to the plain io.ReadCloser bufferedSequential expects, holding onto
// the single Reader the file was opened with so repeated Read calls keep
// advancing the same stream rather than re-seeking to its start.
type remoteFileCloser struct {
	f   file.File
	ctx context.Context
	rd  io.Reader
}

func (r *remoteFileCloser) Read(p []byte) (int, error) { return r.rd.Read(p) }
func (r *remoteFileCloser) Close() error                { return r.f.Close(r.ctx) }
