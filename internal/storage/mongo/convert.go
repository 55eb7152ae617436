package mongo

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pkt.systems/booksden/internal/storage"
)

// toBSONFilter converts a storage filter, turning a hex _id into an ObjectID.
func toBSONFilter(filter storage.Filter) (bson.M, error) {
	out := bson.M{}
	for field, value := range filter {
		if field == storage.IDField {
			oid, err := objectID(value)
			if err != nil {
				return nil, err
			}
			out[field] = oid
			continue
		}
		out[field] = value
	}
	return out, nil
}

// toBSON converts a document for writing, turning a hex _id into an ObjectID.
func toBSON(doc storage.Document) (bson.M, error) {
	out := make(bson.M, len(doc))
	for field, value := range doc {
		if field == storage.IDField {
			oid, err := objectID(value)
			if err != nil {
				return nil, err
			}
			out[field] = oid
			continue
		}
		out[field] = value
	}
	return out, nil
}

func objectID(value any) (primitive.ObjectID, error) {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v, nil
	case string:
		oid, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return primitive.NilObjectID, fmt.Errorf("%w: %q", storage.ErrInvalidID, v)
		}
		return oid, nil
	default:
		return primitive.NilObjectID, fmt.Errorf("%w: %v", storage.ErrInvalidID, value)
	}
}

// fromBSON converts a decoded document into JSON-friendly values.
func fromBSON(m bson.M) storage.Document {
	out := make(storage.Document, len(m))
	for field, value := range m {
		out[field] = fromBSONValue(value)
	}
	return out
}

func fromBSONValue(value any) any {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Decimal128:
		return v.String()
	case primitive.M:
		return map[string]any(fromBSON(bson.M(v)))
	case primitive.D:
		inner := make(map[string]any, len(v))
		for _, elem := range v {
			inner[elem.Key] = fromBSONValue(elem.Value)
		}
		return inner
	case primitive.A:
		list := make([]any, len(v))
		for i, elem := range v {
			list[i] = fromBSONValue(elem)
		}
		return list
	default:
		return v
	}
}

func idString(value any) string {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
