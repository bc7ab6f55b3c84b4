package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// phraseWords is the wordlist room phrases are drawn from. Four random words
// give a human-readable handle with ample entropy; uniqueness is enforced by
// the rooms table anyway.
var phraseWords = []string{
	"acid", "actor", "adapt", "agent", "alarm", "album", "alley", "amber",
	"anchor", "angle", "ankle", "antler", "apple", "apron", "arch", "arrow",
	"aspen", "atlas", "attic", "autumn", "axis", "badge", "bagel", "bamboo",
	"banner", "barrel", "basil", "basin", "beacon", "beetle", "bell", "bench",
	"berry", "birch", "bishop", "bison", "blade", "blanket", "bloom", "bolt",
	"bonnet", "border", "bottle", "boulder", "bracket", "brass", "breeze", "brick",
	"bridge", "bronze", "brook", "bucket", "bugle", "bundle", "bunker", "butter",
	"cabin", "cable", "cactus", "camel", "candle", "canoe", "canyon", "carbon",
	"cargo", "carpet", "castle", "cedar", "cellar", "chalk", "chapel", "cherry",
	"chisel", "cider", "cinder", "circle", "citrus", "clover", "cobalt", "cocoa",
	"comet", "compass", "copper", "coral", "cotton", "cradle", "crater", "crayon",
	"cricket", "crystal", "cypress", "daisy", "dapple", "delta", "denim", "dune",
	"eagle", "easel", "echo", "elder", "ember", "emblem", "engine", "estate",
	"fable", "falcon", "feather", "fennel", "ferry", "fiddle", "flint", "forest",
	"fossil", "fountain", "fresco", "frost", "galaxy", "garnet", "gazebo", "geyser",
	"ginger", "glacier", "goblet", "granite", "grove", "guitar", "hammer", "harbor",
	"hazel", "heron", "hollow", "honey", "horizon", "hummus", "iceberg", "indigo",
	"ingot", "island", "ivory", "jasper", "jungle", "juniper", "kettle", "knoll",
	"lagoon", "lantern", "lattice", "laurel", "lemon", "lilac", "linen", "lobby",
	"locket", "lotus", "lumber", "magnet", "mango", "mantle", "maple", "marble",
	"meadow", "melon", "mirror", "morsel", "mosaic", "moss", "mural", "myrtle",
	"nebula", "nectar", "nickel", "noodle", "nutmeg", "ocean", "olive", "onyx",
	"opal", "orbit", "orchid", "otter", "paddle", "pagoda", "palace", "panda",
	"pantry", "parcel", "pastel", "pebble", "pepper", "pillar", "pine", "pistol",
	"plank", "plaza", "plume", "pocket", "pollen", "pond", "poplar", "prairie",
	"prism", "pumpkin", "quartz", "quill", "quilt", "raccoon", "rafter", "raisin",
	"ranch", "raven", "reef", "ribbon", "ridge", "ripple", "river", "rocket",
	"rubble", "ruby", "rustic", "saddle", "saffron", "salmon", "sapphire", "satchel",
	"scarlet", "schooner", "shadow", "shale", "shingle", "sierra", "silver", "sketch",
	"slate", "sleet", "spruce", "squash", "stable", "summit", "sundial", "syrup",
	"tassel", "teapot", "tempest", "thicket", "thistle", "timber", "topaz", "trellis",
	"trout", "tulip", "tundra", "turnip", "umber", "valley", "velvet", "violet",
}

// NewPhrase builds a four-word room phrase from the wordlist using a
// cryptographic source. Collisions are resolved by the caller against the
// rooms table.
func NewPhrase() (string, error) {
	const numWords = 4
	words := make([]string, 0, numWords)
	max := big.NewInt(int64(len(phraseWords)))
	for i := 0; i < numWords; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("room: generate phrase: %w", err)
		}
		words = append(words, phraseWords[n.Int64()])
	}
	return strings.Join(words, " "), nil
}
