package mongostore

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/charlesng35/lensfusion/internal/docstore"
)

var operators = map[docstore.Operator]string{
	docstore.Equal:          "$eq",
	docstore.NotEqual:       "$ne",
	docstore.Less:           "$lt",
	docstore.LessOrEqual:    "$lte",
	docstore.Greater:        "$gt",
	docstore.GreaterOrEqual: "$gte",
}

// buildFilter translates normalised filters into a bson filter document.
// Mongo treats a missing field as null, matching docstore.Matches.
func buildFilter(id string, filters []docstore.Filter) (bson.D, error) {
	clauses := bson.A{}
	if id != "" {
		clauses = append(clauses, bson.D{{Key: "_id", Value: id}})
	}
	for _, f := range filters {
		op, ok := operators[f.Op]
		if !ok {
			return nil, fmt.Errorf("%w: operator %q", docstore.ErrInvalidValue, f.Op)
		}
		clauses = append(clauses, bson.D{{Key: f.Field, Value: bson.D{{Key: op, Value: f.Value}}}})
	}
	switch len(clauses) {
	case 0:
		return bson.D{}, nil
	case 1:
		return clauses[0].(bson.D), nil
	default:
		return bson.D{{Key: "$and", Value: clauses}}, nil
	}
}

func buildSort(orderBy []docstore.Order) bson.D {
	sort := make(bson.D, 0, len(orderBy)+1)
	for _, o := range orderBy {
		direction := 1
		if o.Descending {
			direction = -1
		}
		sort = append(sort, bson.E{Key: o.Field, Value: direction})
	}
	return append(sort, bson.E{Key: "_id", Value: 1})
}

func toBSON(fields docstore.Fields) bson.M {
	out := make(bson.M, len(fields))
	for key, value := range fields {
		out[key] = value
	}
	return out
}

// fromBSON converts a raw mongo document back to docstore fields. Datetimes
// come back with millisecond precision.
func fromBSON(raw bson.M) (docstore.Document, error) {
	doc := docstore.Document{Fields: make(docstore.Fields, len(raw))}
	for key, value := range raw {
		if key == "_id" {
			id, ok := value.(string)
			if !ok {
				return docstore.Document{}, fmt.Errorf("mongostore: unexpected _id type %T", value)
			}
			doc.ID = id
			continue
		}
		converted, err := fromBSONValue(value)
		if err != nil {
			return docstore.Document{}, fmt.Errorf("mongostore: field %q: %w", key, err)
		}
		doc.Fields[key] = converted
	}
	return doc, nil
}

func fromBSONValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, int64, float64:
		return v, nil
	case int32:
		return int64(v), nil
	case primitive.DateTime:
		return v.Time().UTC(), nil
	case time.Time:
		return v.UTC(), nil
	case primitive.Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", docstore.ErrInvalidValue, value)
	}
}
