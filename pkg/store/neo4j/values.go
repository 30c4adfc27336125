package neo4j

import "github.com/neo4j/neo4j-go-driver/v5/neo4j"

func value(rec *neo4j.Record, key string) any {
	v, _ := rec.Get(key)
	return v
}

func stringValue(rec *neo4j.Record, key string) string {
	s, _ := value(rec, key).(string)
	return s
}

func optionalString(rec *neo4j.Record, key string) *string {
	s, ok := value(rec, key).(string)
	if !ok {
		return nil
	}
	return &s
}

func intValue(rec *neo4j.Record, key string) int64 {
	switch v := value(rec, key).(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func floatValue(rec *neo4j.Record, key string) float64 {
	switch v := value(rec, key).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func boolValue(rec *neo4j.Record, key string) bool {
	b, _ := value(rec, key).(bool)
	return b
}
