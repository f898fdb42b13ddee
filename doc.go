// Package epubemoji replaces emoji in ePub 2 and ePub 3 books with inline
// images while keeping the archive a valid ePub.
//
// Every HTML or XHTML content document is split into grapheme clusters;
// each cluster found in the emoji table (including ZWJ, keycap, flag and
// skin-tone sequences) becomes an <img> whose alt text is the original
// emoji. The images are Twemoji PNGs named by codepoint key ("1f600.png",
// "2764-fe0f.png"), taken from a local asset cache or downloaded on demand,
// injected into the archive next to the package document, and listed in its
// manifest.
//
// # Transforming a book
//
//	report, err := epubemoji.TransformFile(ctx, "book.epub", "book-emoji.epub", epubemoji.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(report.Substitutions, "emoji replaced")
//
// Use [New] and [Transformer.Transform] to work on an [io.ReaderAt] and an
// [io.Writer] instead of files, and [Transformer.RewriteFile] to rewrite a
// single loose HTML file.
//
// # Images
//
// A [Resolver] looks for "<key>.png" in [Config.CacheDir] (by default an
// "emoji_img" directory next to the executable). A key ending in "-fe0f"
// falls back to the image of its base key. Missing images are fetched from
// [Config.CDNBase] and added to the cache; [LocalOnly] disables downloads.
// An emoji with no image anywhere is left as text. With [EmbeddedDataURI]
// delivery the images are inlined as data: URIs and nothing is added to the
// archive or its manifest.
//
// # What is left alone
//
// Markup, attribute values and comments are never altered, nor is text in
// head, title, script, style, textarea, svg or math elements. Navigation
// documents (manifest items with the "nav" property), non-HTML members and
// obfuscated fonts are copied byte for byte.
//
// # Emoji data
//
// Classification uses the emoji set of github.com/enescakir/emoji v1.0.0
// (fully qualified emoji, Unicode emoji 13.0), completed with the skin tone
// modifier sequences of the emoji-test data in github.com/forPelevin/gomoji
// v1.4.1, and the UAX #29 grapheme rules of github.com/rivo/uniseg v0.4.7
// (Unicode 15.0). An emoji the image source has no PNG for is left as text.
//
// # Error Handling
//
// Only four kinds of failure abort a transform:
//   - [ErrArchiveOpen] – the input is not a zip archive
//   - [ErrMemberRead] – a member cannot be read
//   - [ErrDRMProtected] – the book is encrypted
//   - [ErrOutputWrite] – the output cannot be written
//
// A missing or malformed package document, unavailable images and cache
// write failures degrade the result and are reported in [Report.Warnings].
//
// Logging is silent by default; see [SetLogger].
package epubemoji
