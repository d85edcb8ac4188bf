// Package model defines the data types the pipeline stages move around:
// documents, shard keys, chunks and batches.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package model

// Document is the unit the input adapter hands to the batcher pool: an
// opaque payload plus whatever decoded field values key extraction needs.
// The core never looks at Payload beyond moving it to the owning chunk;
// Fields exists only so the batcher can read the configured key fields
// without parsing the payload itself — that parsing is the input adapter's
// job.
type Document struct {
	Payload []byte
	Fields  map[string]any
}

// Field reads a decoded field value by name.
func (d *Document) Field(name string) (any, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

// SetID assigns a synthesized `_id`, used by `add_id` when the shard key
// includes `_id` and the document arrived without one.
func (d *Document) SetID(id string) {
	if d.Fields == nil {
		d.Fields = make(map[string]any, 1)
	}
	d.Fields["_id"] = id
}

// HasID reports whether the document already carries an `_id` field.
func (d *Document) HasID() bool {
	_, ok := d.Fields["_id"]
	return ok
}
