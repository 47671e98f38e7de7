package idgen

// Word tables for the gfycat-style strategy. Kept short on purpose: the
// collision retry loop handles the smaller key space.

var adjectives = []string{
	"Able", "Agile", "Amber", "Ancient", "Bold", "Brave", "Bright", "Brisk",
	"Calm", "Clever", "Coral", "Crimson", "Curious", "Daring", "Dusty",
	"Eager", "Early", "Elder", "Fancy", "Fierce", "Frosty", "Gentle",
	"Giant", "Golden", "Happy", "Hasty", "Hidden", "Humble", "Icy",
	"Jolly", "Keen", "Late", "Lively", "Lucky", "Mellow", "Mighty",
	"Misty", "Noble", "Pale", "Proud", "Quick", "Quiet", "Rapid", "Rustic",
	"Silent", "Silver", "Sleepy", "Swift", "Tiny", "Vivid", "Wild", "Witty",
}

var animals = []string{
	"Antelope", "Badger", "Bat", "Bear", "Beaver", "Bison", "Camel",
	"Cheetah", "Cobra", "Condor", "Crane", "Dingo", "Dolphin", "Falcon",
	"Ferret", "Fox", "Gazelle", "Gecko", "Heron", "Ibex", "Jackal",
	"Jaguar", "Koala", "Lemur", "Lynx", "Macaw", "Marmot", "Mole",
	"Moose", "Narwhal", "Newt", "Ocelot", "Otter", "Owl", "Panda",
	"Pelican", "Puffin", "Raven", "Salmon", "Seal", "Shrew", "Sparrow",
	"Stoat", "Swan", "Tapir", "Toucan", "Viper", "Walrus", "Weasel",
	"Wolf", "Wombat", "Yak",
}
