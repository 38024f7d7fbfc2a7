// Package querysettings builds setQuerySettings admin commands.
package querysettings

import (
	"github.com/ppiankov/shapespectre/internal/mongosh"
	"github.com/ppiankov/shapespectre/internal/placeholder"
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/shape"
)

// UnknownCommand names the command of a shape that has none.
const UnknownCommand = "Unknown"

// RejectCommand builds {setQuerySettings: {...}, settings: {reject: true}} for
// a shape and its representative query. A document representative is attached
// as filter, an array as pipeline. Commands other than find and aggregate are
// still emitted under their own name.
func RejectCommand(key querystats.Key, representative shape.Value) shape.Document {
	command := key.Command
	if command == "" {
		command = UnknownCommand
	}
	target := shape.Document{
		{Key: command, Value: shape.String(key.Namespace.Collection)},
		{Key: "$db", Value: shape.String(key.Namespace.DB)},
	}
	switch rep := representative.(type) {
	case shape.Document:
		target = append(target, shape.Field{Key: "filter", Value: rep})
	case shape.Array:
		target = append(target, shape.Field{Key: "pipeline", Value: rep})
	}
	if key.Sort != nil {
		target = append(target, shape.Field{Key: "sort", Value: key.Sort})
	}
	return shape.Document{
		{Key: "setQuerySettings", Value: target},
		{Key: "settings", Value: shape.Document{{Key: "reject", Value: shape.Bool(true)}}},
	}
}

// RenderAdminCommand wraps a command document as adminCommand(...) shell text.
func RenderAdminCommand(cmd shape.Document) string {
	return "adminCommand(\n" + mongosh.Serialize(mongosh.Transform(cmd)) + "\n)"
}

// RenderReject renders the reject command for key and its representative query.
func RenderReject(key querystats.Key, representative shape.Value) string {
	return RenderAdminCommand(RejectCommand(key, representative))
}

// RejectForKey expands the shape's placeholders and renders its reject command.
func RejectForKey(key querystats.Key) string {
	return RenderReject(key, placeholder.Representative(key.Query()))
}
