// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"bufio"
	"encoding/json"
	"io"
)

// Render writes v as an indented text tree with box-drawing connectors:
//
//	root
//	├── a {"name":"A"}
//	│   └── b
//	└── c
//
// Each line shows the node identifier followed by its payload as compact
// JSON, omitted when empty.
func Render(w io.Writer, v *TreeView) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(string(v.ID))
	writePayload(bw, v.Payload)
	bw.WriteByte('\n')
	renderChildren(bw, v.Children, "")
	return bw.Flush()
}

func renderChildren(w *bufio.Writer, children []*TreeView, prefix string) {
	for i, c := range children {
		connector, next := "├── ", "│   "
		if i == len(children)-1 {
			connector, next = "└── ", "    "
		}
		w.WriteString(prefix)
		w.WriteString(connector)
		w.WriteString(string(c.ID))
		writePayload(w, c.Payload)
		w.WriteByte('\n')
		renderChildren(w, c.Children, prefix+next)
	}
}

func writePayload(w *bufio.Writer, p Payload) {
	if len(p) == 0 {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	w.WriteByte(' ')
	w.Write(data)
}
