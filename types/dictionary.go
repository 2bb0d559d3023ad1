package types

// DictionaryItem is a libav-style "key=value" option.
type DictionaryItem struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type DictionaryItems []DictionaryItem

// Deduplicate keeps only the last value of each key, in the order of
// the last occurrences.
func (s DictionaryItems) Deduplicate() DictionaryItems {
	last := make(map[string]int, len(s))
	for idx, item := range s {
		last[item.Key] = idx
	}
	result := make(DictionaryItems, 0, len(last))
	for idx, item := range s {
		if last[item.Key] == idx {
			result = append(result, item)
		}
	}
	return result
}

// Get returns the last value set for the key.
func (s DictionaryItems) Get(key string) (string, bool) {
	for idx := len(s) - 1; idx >= 0; idx-- {
		if s[idx].Key == key {
			return s[idx].Value, true
		}
	}
	return "", false
}
