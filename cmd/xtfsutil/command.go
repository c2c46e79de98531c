// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/xtreemfs/xtreemfs-sub010/client"
	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
	"github.com/xtreemfs/xtreemfs-sub010/util"
)

const copyBufferSize = 1 << 20

type command struct {
	vol *client.Volume
	out io.Writer
}

func needArgs(args []string, n int) error {
	if len(args) != n {
		return apierrors.NewApplication(apierrors.EINVAL, fmt.Sprintf("expected %d arguments, got %d", n, len(args)))
	}
	return nil
}

func (c *command) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "stat":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return c.stat(ctx, args[0])
	case "ls":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return c.ls(ctx, args[0])
	case "cat":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return c.cat(ctx, args[0])
	case "put":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		return c.put(ctx, args[0], args[1])
	case "rm":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return c.vol.Unlink(ctx, args[0])
	case "mv":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		return c.vol.Rename(ctx, args[0], args[1])
	case "mkdir":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return c.vol.Mkdir(ctx, args[0], 0o755)
	case "rmdir":
		if err := needArgs(args, 1); err != nil {
			return err
		}
		return c.vol.Rmdir(ctx, args[0])
	case "truncate":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		size, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return apierrors.NewApplication(apierrors.EINVAL, "invalid size "+args[1])
		}
		return c.vol.Truncate(ctx, args[0], size)
	case "getxattr":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		value, err := c.vol.GetXAttr(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, value)
		return nil
	case "setxattr":
		if err := needArgs(args, 3); err != nil {
			return err
		}
		return c.vol.SetXAttr(ctx, args[0], args[1], args[2], 0)
	case "rmxattr":
		if err := needArgs(args, 2); err != nil {
			return err
		}
		return c.vol.RemoveXAttr(ctx, args[0], args[1])
	default:
		return apierrors.NewApplication(apierrors.EINVAL, "unknown command "+name)
	}
}

func formatStat(name string, st *proto.Stat) string {
	kind := "-"
	if st.IsDir() {
		kind = "d"
	}
	mtime := time.Unix(0, int64(st.MtimeNs)).UTC().Format(time.RFC3339)
	return fmt.Sprintf("%s%04o %8s %8s %12d %s %s", kind, st.Mode&0o7777, st.UserID, st.GroupID, st.Size, mtime, name)
}

func (c *command) stat(ctx context.Context, p string) error {
	st, err := c.vol.GetAttr(ctx, p)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, formatStat(p, st))
	return nil
}

func (c *command) ls(ctx context.Context, p string) error {
	entries, err := c.vol.ReadDir(ctx, p, 0, 0)
	if err != nil {
		return err
	}
	w := util.GetBufferWriter(4096)
	defer util.PutBufferWriter(w)
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		if entry.Stat == nil {
			fmt.Fprintln(w, entry.Name)
			continue
		}
		fmt.Fprintln(w, formatStat(entry.Name, entry.Stat))
	}
	_, err = c.out.Write(w.Bytes())
	return err
}

func (c *command) cat(ctx context.Context, p string) error {
	h, err := c.vol.OpenFile(ctx, p, proto.FlagReadOnly, 0)
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	buf := util.GetBuffer(copyBufferSize)
	defer util.PutBuffer(buf)
	var offset uint64
	for {
		n, err := h.Read(ctx, buf, offset)
		if err != nil {
			return err
		}
		if _, err = c.out.Write(buf[:n]); err != nil {
			return err
		}
		offset += uint64(n)
		if n < len(buf) {
			return nil
		}
	}
}

func (c *command) put(ctx context.Context, local, p string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := c.vol.OpenFile(ctx, p, proto.FlagCreate|proto.FlagTruncate|proto.FlagWriteOnly, 0o644)
	if err != nil {
		return err
	}
	buf := util.GetBuffer(copyBufferSize)
	defer util.PutBuffer(buf)
	var offset uint64
	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			if _, err = h.Write(ctx, buf[:n], offset); err != nil {
				h.Close(ctx)
				return err
			}
			offset += uint64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			h.Close(ctx)
			return rerr
		}
	}
	return h.Close(ctx)
}
