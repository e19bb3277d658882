package morse

// patterns maps every supported character to its dot/dash pattern. The space
// character is handled by the translator itself and has no entry here.
var patterns = map[rune]string{
	'A': ".-",
	'B': "-...",
	'C': "-.-.",
	'D': "-..",
	'E': ".",
	'F': "..-.",
	'G': "--.",
	'H': "....",
	'I': "..",
	'J': ".---",
	'K': "-.-",
	'L': ".-..",
	'M': "--",
	'N': "-.",
	'O': "---",
	'P': ".--.",
	'Q': "--.-",
	'R': ".-.",
	'S': "...",
	'T': "-",
	'U': "..-",
	'V': "...-",
	'W': ".--",
	'X': "-..-",
	'Y': "-.--",
	'Z': "--..",
	'1': ".----",
	'2': "..---",
	'3': "...--",
	'4': "....-",
	'5': ".....",
	'6': "-....",
	'7': "--...",
	'8': "---..",
	'9': "----.",
	'0': "-----",
	'.': ".-.-.-",
	',': "--..--",
	'?': "..--..",
	'!': "-.-.--",
	'-': "-....-",
	'/': "-..-.",
	'@': ".--.-.",
	'(': "-.--.",
	')': "-.--.-",
	'"': ".-..-.",
	'\'': ".----.",
	'=': "-...-",
	'+': ".-.-.",
	';': "-.-.-.",
	':': "---...",
	'$': "...-..-",
	'&': ".-...",
	'_': "..--.-",
}

// Pattern returns the dot/dash pattern for an upper-case character.
func Pattern(r rune) (string, bool) {
	p, ok := patterns[r]
	return p, ok
}

// Supported reports whether r can be translated after normalization.
func Supported(r rune) bool {
	if r == ' ' {
		return true
	}
	_, ok := patterns[r]
	return ok
}
